// constants_test.go - debug mode validation tests.
// Copyright (C) 2017  Yawning Angel.
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

package constants

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDebugModeValidate(t *testing.T) {
	require := require.New(t)

	require.NoError(DebugMode{}.Validate())
	require.NoError(DebugMode{NoCover: true}.Validate())
	require.NoError(DebugMode{FastMode: true}.Validate())
	require.NoError(DebugMode{MediumToggle: true}.Validate())
	require.Error(DebugMode{NoCover: true, FastMode: true}.Validate())
	require.Error(DebugMode{FastMode: true, MediumToggle: true}.Validate())
}
