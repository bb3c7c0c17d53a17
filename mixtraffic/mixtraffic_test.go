// mixtraffic_test.go - mix traffic controller tests.
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

package mixtraffic

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nymtech/nym-sub018/sphinxwire"
	"github.com/stretchr/testify/require"
)

type fakeTransceiver struct {
	mu         sync.Mutex
	fail       bool
	singleSent int
	batchSent  int
	lastBatch  []*sphinxwire.MixPacket
}

func (f *fakeTransceiver) SendMixPacket(*sphinxwire.MixPacket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("gateway unreachable")
	}
	f.singleSent++
	return nil
}

func (f *fakeTransceiver) BatchSendMixPackets(packets []*sphinxwire.MixPacket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("gateway unreachable")
	}
	f.batchSent++
	f.lastBatch = packets
	return nil
}

func TestSinglePacketUsesSendMixPacket(t *testing.T) {
	require := require.New(t)
	tc := &fakeTransceiver{}
	c := New(tc, nil)
	defer c.Halt()

	c.Enqueue(&sphinxwire.MixPacket{})

	require.Eventually(func() bool {
		tc.mu.Lock()
		defer tc.mu.Unlock()
		return tc.singleSent == 1
	}, time.Second, time.Millisecond)
}

func TestBatchUsesBatchSendMixPackets(t *testing.T) {
	require := require.New(t)
	tc := &fakeTransceiver{}
	c := New(tc, nil)
	defer c.Halt()

	c.EnqueueBatch([]*sphinxwire.MixPacket{{}, {}, {}})

	require.Eventually(func() bool {
		tc.mu.Lock()
		defer tc.mu.Unlock()
		return tc.batchSent == 1
	}, time.Second, time.Millisecond)
	require.Len(tc.lastBatch, 3)
}

func TestConsecutiveFailuresResetOnSuccess(t *testing.T) {
	require := require.New(t)
	tc := &fakeTransceiver{fail: true}
	c := New(tc, nil)
	defer c.Halt()

	c.Enqueue(&sphinxwire.MixPacket{})
	require.Eventually(func() bool { return c.ConsecutiveFailures() == 1 }, time.Second, time.Millisecond)

	tc.mu.Lock()
	tc.fail = false
	tc.mu.Unlock()

	c.Enqueue(&sphinxwire.MixPacket{})
	require.Eventually(func() bool { return c.ConsecutiveFailures() == 0 }, time.Second, time.Millisecond)
}

func TestOnDeadFiresAtFailureThreshold(t *testing.T) {
	require := require.New(t)
	tc := &fakeTransceiver{fail: true}

	var mu sync.Mutex
	fired := 0
	c := New(tc, func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	defer c.Halt()

	for i := 0; i < 100; i++ {
		c.Enqueue(&sphinxwire.MixPacket{})
	}

	require.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired == 1
	}, time.Second, time.Millisecond)
}
