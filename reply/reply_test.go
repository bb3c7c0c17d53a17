// reply_test.go - reply controller SURB accounting tests.
// Copyright (C) 2018  David Stainton.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package reply

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []string
	requests []string
}

func (f *fakeSender) SendWithSurb(tag string, data []byte, surb []byte, lane string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tag)
	return nil
}

func (f *fakeSender) SendSurbRequest(tag string, amount uint32, usingSurb []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, tag)
	return nil
}

func surbs(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte{byte(i)}
	}
	return out
}

func TestSendReplyUsesPoolWhenSufficient(t *testing.T) {
	require := require.New(t)
	sender := &fakeSender{}
	c := New(sender, 10)
	c.DepositSurbs("alice", surbs(5))

	require.NoError(c.SendReply("alice", []byte("hi"), "normal", 1, 3))
	// One SURB carries the reply; the pool (4) is then below
	// MinSURBThreshold, so the refill request spends one more.
	require.Equal(3, c.PoolSize("alice"))
	require.Equal([]string{"alice"}, sender.sent)
}

func TestSendReplyQueuesAndRequestsWhenPoolInsufficient(t *testing.T) {
	require := require.New(t)
	sender := &fakeSender{}
	c := New(sender, 10)
	c.DepositSurbs("bob", surbs(1))

	err := c.SendReply("bob", []byte("hi"), "normal", 3, 3)
	require.NoError(err)
	require.Empty(sender.sent)
	require.Equal([]string{"bob"}, sender.requests)
	require.Equal(0, c.PoolSize("bob"))
}

func TestDepositDrainsBacklog(t *testing.T) {
	require := require.New(t)
	sender := &fakeSender{}
	c := New(sender, 10)

	require.NoError(c.SendReply("carol", []byte("queued"), "normal", 1, 3))
	require.Empty(sender.sent)

	c.DepositSurbs("carol", surbs(2))
	require.Equal([]string{"carol"}, sender.sent)
}

func TestDepositCapsAtMaxThreshold(t *testing.T) {
	require := require.New(t)
	sender := &fakeSender{}
	c := New(sender, 10)

	c.DepositSurbs("dave", surbs(150))
	require.Equal(100, c.PoolSize("dave"))
}

func TestQueueFullReturnsError(t *testing.T) {
	require := require.New(t)
	sender := &fakeSender{}
	c := New(sender, 2)

	require.NoError(c.SendReply("erin", []byte("1"), "normal", 5, 3))
	require.NoError(c.SendReply("erin", []byte("2"), "normal", 5, 3))
	err := c.SendReply("erin", []byte("3"), "normal", 5, 3)
	require.Equal(ErrQueueFull, err)
}
