// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package p2p

import (
	"fmt"
	"net"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/z"
)

// Config is the libp2p node configuration.
type Config struct {
	// TCPAddrs defines the libp2p tcp listen addresses.
	TCPAddrs []string
	// Peers defines the multiaddrs including peer IDs of the peers to stay connected to.
	Peers []string
}

// ParseTCPAddrs returns the configured tcp addresses as typed net tcp addresses.
func (c Config) ParseTCPAddrs() ([]*net.TCPAddr, error) {
	res := make([]*net.TCPAddr, 0, len(c.TCPAddrs))

	for _, addr := range c.TCPAddrs {
		tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
		if err != nil {
			return nil, errors.Wrap(err, "resolve p2p bind addr", z.Str("addr", addr))
		}

		if tcpAddr.IP == nil {
			return nil, errors.New("p2p bind IP not specified", z.Str("addr", addr))
		}

		res = append(res, tcpAddr)
	}

	return res, nil
}

// Multiaddrs returns the configured listen addresses as libp2p multiaddrs.
func (c Config) Multiaddrs() ([]ma.Multiaddr, error) {
	tcpAddrs, err := c.ParseTCPAddrs()
	if err != nil {
		return nil, err
	}

	res := make([]ma.Multiaddr, 0, len(tcpAddrs))
	for _, addr := range tcpAddrs {
		maddr, err := multiAddrFromIPPort(addr.IP, addr.Port)
		if err != nil {
			return nil, err
		}

		res = append(res, maddr)
	}

	return res, nil
}

// PeerAddrInfos returns the configured peers.
func (c Config) PeerAddrInfos() ([]peer.AddrInfo, error) {
	var resp []peer.AddrInfo
	for _, addr := range c.Peers {
		info, err := ParseAddrInfo(addr)
		if err != nil {
			return nil, err
		}

		resp = append(resp, info)
	}

	return resp, nil
}

// ParseAddrInfo parses a multiaddr including a /p2p/ peer ID component.
func ParseAddrInfo(addr string) (peer.AddrInfo, error) {
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return peer.AddrInfo{}, errors.Wrap(err, "parse multiaddr", z.Str("addr", addr))
	}

	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return peer.AddrInfo{}, errors.Wrap(err, "multiaddr without peer id", z.Str("addr", addr))
	}

	return *info, nil
}

// multiAddrFromIPPort returns a multiaddr composed of the provided ip (v4 or v6) and tcp port.
func multiAddrFromIPPort(ip net.IP, port int) (ma.Multiaddr, error) {
	if ip.To4() == nil && ip.To16() == nil {
		return nil, errors.New("invalid ip address")
	}

	typ := "ip4"
	if ip.To4() == nil {
		typ = "ip6"
	}

	maddr, err := ma.NewMultiaddr(fmt.Sprintf("/%s/%s/tcp/%d", typ, ip.String(), port))
	if err != nil {
		return nil, errors.Wrap(err, "invalid multiaddr")
	}

	return maddr, nil
}
