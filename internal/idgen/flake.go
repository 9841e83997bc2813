// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package idgen

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"net"
	"os"
	"time"

	"github.com/sony/sonyflake"
)

var flakeEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// SonyFlakeGenerator hands out instance IDs for log and metric attributes.
type SonyFlakeGenerator struct {
	sf      *sonyflake.Sonyflake
	machine uint16
}

// NewFlakeGenerator builds a generator keyed by MachineID. It works on hosts
// without a private IPv4 address.
func NewFlakeGenerator() (*SonyFlakeGenerator, error) {
	machine := MachineID()
	sf, err := sonyflake.New(sonyflake.Settings{
		StartTime: flakeEpoch,
		MachineID: func() (uint16, error) { return machine, nil },
	})
	if err != nil {
		return nil, err
	}
	if sf == nil {
		return nil, errors.New("failed to create Sonyflake instance")
	}
	return &SonyFlakeGenerator{sf: sf, machine: machine}, nil
}

// Machine returns the machine ID the generator stamps into its IDs.
func (g *SonyFlakeGenerator) Machine() uint16 { return g.machine }

// NextID returns the next flake ID, or a random one if the clock has run
// out of sequence numbers.
func (g *SonyFlakeGenerator) NextID() int64 {
	v, err := g.sf.NextID()
	if err != nil {
		return rand.Int64()
	}
	return int64(v)
}

// MachineID is the low 16 bits of the first private IPv4 address, or of the
// process id when there is none.
func MachineID() uint16 {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		slog.Debug("Unable to list interface addresses", slog.Any("error", err))
	} else if id, ok := privateIPv4ID(addrs); ok {
		return id
	}
	return pidMachineID(os.Getpid())
}

func privateIPv4ID(addrs []net.Addr) (uint16, bool) {
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		ip := ipnet.IP.To4()
		if ip == nil || !ip.IsPrivate() {
			continue
		}
		return uint16(ip[2])<<8 | uint16(ip[3]), true
	}
	return 0, false
}

func pidMachineID(pid int) uint16 { return uint16(pid) }
