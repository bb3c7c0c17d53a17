// metrics_test.go - Prometheus collector registration tests.
// Copyright (C) 2018  Yawning Angel.
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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRegisterSucceedsOnFreshRegistry(t *testing.T) {
	require := require.New(t)
	reg := prometheus.NewRegistry()
	require.NoError(Register(reg))
}

func TestRegisterFailsOnDuplicateRegistration(t *testing.T) {
	require := require.New(t)
	reg := prometheus.NewRegistry()
	require.NoError(Register(reg))
	require.Error(Register(reg))
}
