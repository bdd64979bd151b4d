// Copyright 2016 CoreOS, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package lan implements the LAN discovery protocol of spec §4.3: mDNS
// browse+resolve of the "_ostree_repo._tcp" service, grounded on
// original_source/src/eos-updater-avahi.c ported from libavahi's
// browser/resolver callback pair onto a synchronous browse-then-resolve
// round using github.com/miekg/dns for message construction and parsing.
package lan

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	pkgerrors "github.com/pkg/errors"

	"github.com/coreos/eos-updater-core/internal/pkg/content"
	"github.com/coreos/eos-updater-core/internal/pkg/finder"
	"github.com/coreos/eos-updater-core/internal/pkg/ref"
	"github.com/coreos/eos-updater-core/internal/pkg/uerrors"
)

// ServiceType is the mDNS service type browsed for LAN peers (spec §4.3, §6).
const ServiceType = "_ostree_repo._tcp"

const mdnsDomain = "local."

var (
	mdns4Addr = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 251), Port: 5353}
	mdns6Addr = &net.UDPAddr{IP: net.ParseIP("ff02::fb"), Port: 5353}
)

// TXT record keys recognized on an advertised service (spec §4.3).
const (
	txtKeyVersion           = "eos_txt_version"
	txtKeyOstreePath        = "eos_ostree_path"
	txtKeyHeadCommitTimestamp = "eos_head_commit_timestamp"
)

// Finder is the LAN source kind. BrowseTimeout bounds how long the browse
// phase runs before the "AllForNow" transition (§4.3); ResolveTimeout bounds
// how long the resolving-only phase waits for outstanding resolvers once
// that transition has happened.
type Finder struct {
	Store             content.Store
	Priority          int
	ExpectedOstreePath string
	BrowseTimeout      time.Duration
	ResolveTimeout     time.Duration
}

// New is the finder.LANFinderFactory: it opens the mDNS multicast sockets up
// front so a failure to bind (no multicast-capable interface, permission
// denied) is reported as an initialization failure, letting the caller drop
// this finder and continue with the rest of the set (§4.3).
func New(store content.Store, priority int, expectedOstreePath string) func() (finder.Finder, error) {
	return func() (finder.Finder, error) {
		conn, err := net.ListenMulticastUDP("udp4", nil, mdns4Addr)
		if err != nil {
			return nil, uerrors.Wrap(uerrors.LanDiscoveryError, err, "opening mDNS multicast socket")
		}
		conn.Close()
		return &Finder{
			Store:              store,
			Priority:           priority,
			ExpectedOstreePath: expectedOstreePath,
			BrowseTimeout:      2 * time.Second,
			ResolveTimeout:     3 * time.Second,
		}, nil
	}
}

func (f *Finder) Kind() finder.Kind { return finder.LAN }

// instance is one resolved mDNS service advertisement: an (interface,
// protocol) pairing's answer for a given service instance name.
type instance struct {
	name      string
	host      string
	port      uint16
	txt       map[string]string
	ifIndex   int
}

func (f *Finder) Find(ctx context.Context, collectionRefs []ref.CollectionRef) ([]finder.Result, error) {
	names, err := f.browse(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, uerrors.New(uerrors.LanDiscoveryError, "no LAN peers advertising "+ServiceType)
	}

	instances := f.resolveAll(ctx, names)
	if len(instances) == 0 {
		return nil, uerrors.New(uerrors.LanDiscoveryError, "no viable LAN URIs")
	}

	var results []finder.Result
	for i, inst := range instances {
		if !f.validTXT(inst.txt) {
			continue
		}
		remote := fmt.Sprintf("eos-lan-%d", i)
		url := fmt.Sprintf("http://%s:%d/", formatHost(inst.host, inst.ifIndex), inst.port)
		if err := f.Store.RegisterTransientRemote(ctx, remote, url, ""); err != nil {
			continue
		}
		refs := map[string]string{}
		for _, cr := range collectionRefs {
			if err := f.Store.PullCommitMetadataOnly(ctx, remote, cr); err != nil {
				continue
			}
			checksum, err := f.Store.ResolveRef(ctx, ref.Refspec{Remote: remote, RefName: cr.RefName})
			if err != nil || checksum == "" {
				continue
			}
			refs[cr.RefName] = checksum
		}
		if len(refs) == 0 {
			continue
		}
		results = append(results, finder.Result{Remote: remote, Priority: f.Priority, Refs: refs, Kind: finder.LAN})
	}
	if len(results) == 0 {
		return nil, uerrors.New(uerrors.LanDiscoveryError, "no viable LAN URIs")
	}
	return results, nil
}

// validTXT applies the §4.3 TXT-record validation rules: eos_txt_version=1
// is required, and version 1 additionally requires eos_ostree_path to match
// and eos_head_commit_timestamp to parse as a signed integer.
func (f *Finder) validTXT(txt map[string]string) bool {
	if txt[txtKeyVersion] != "1" {
		return false
	}
	if txt[txtKeyOstreePath] != f.ExpectedOstreePath {
		return false
	}
	if _, err := strconv.ParseInt(txt[txtKeyHeadCommitTimestamp], 10, 64); err != nil {
		return false
	}
	return true
}

// formatHost implements §4.3's scope-id rule: an IPv6 link-local or loopback
// address is formatted with the mDNS-supplied interface index as a scope id
// ("fe80::x%<ifidx>"); any other address (including IPv4) is used plain.
func formatHost(host string, ifIndex int) string {
	ip := net.ParseIP(host)
	if ip == nil {
		return host
	}
	if ip.To4() == nil && (ip.IsLinkLocalUnicast() || ip.IsLoopback()) {
		return fmt.Sprintf("%s%%%d", host, ifIndex)
	}
	return host
}

// browse requires at least one multicast-capable interface, sends a PTR query
// for ServiceType to the IPv4 mDNS group through one unbound UDP socket (once
// per such interface; the socket is not tied to any interface, so the kernel
// picks the outgoing one each time) and collects service instance names until
// BrowseTimeout elapses,
// modelling the "AllForNow" browser event of §4.3 as a fixed collection
// window rather than Avahi's explicit end-of-enumeration callback.
func (f *Finder) browse(ctx context.Context) ([]string, error) {
	ifaces, err := multicastInterfaces()
	if err != nil {
		return nil, uerrors.Wrap(uerrors.LanDiscoveryError, err, "enumerating network interfaces")
	}
	if len(ifaces) == 0 {
		return nil, uerrors.New(uerrors.LanDiscoveryError, "no multicast-capable interfaces")
	}

	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn(ServiceType+"."+mdnsDomain), dns.TypePTR)
	buf, err := query.Pack()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "packing mDNS PTR query")
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, uerrors.Wrap(uerrors.LanDiscoveryError, err, "opening mDNS query socket")
	}
	defer conn.Close()

	for _, iface := range ifaces {
		_ = iface
		_, _ = conn.WriteToUDP(buf, mdns4Addr)
	}

	deadline := time.Now().Add(f.BrowseTimeout)
	seen := map[string]bool{}
	var names []string
	conn.SetReadDeadline(deadline)
	respBuf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return names, uerrors.Wrap(uerrors.Cancelled, ctx.Err(), "browse cancelled")
		default:
		}
		n, _, err := conn.ReadFromUDP(respBuf)
		if err != nil {
			break // timeout: the "AllForNow" transition
		}
		resp := new(dns.Msg)
		if err := resp.Unpack(respBuf[:n]); err != nil {
			continue
		}
		for _, a := range resp.Answer {
			ptr, ok := a.(*dns.PTR)
			if !ok {
				continue
			}
			name := ptr.Ptr
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// resolveAll resolves each instance name's address/port/TXT, running one
// resolver goroutine per name under ResolveTimeout and waiting on a single
// WaitGroup until every outstanding resolver has returned. Only one resolver
// runs per name: there are no per-interface or per-protocol resolvers and no
// per-name outstanding count.
func (f *Finder) resolveAll(ctx context.Context, names []string) []instance {
	var (
		mu        sync.Mutex
		instances []instance
		wg        sync.WaitGroup
	)
	resolveCtx, cancel := context.WithTimeout(ctx, f.ResolveTimeout)
	defer cancel()

	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			inst, ok := f.resolveOne(resolveCtx, name)
			if !ok {
				return
			}
			mu.Lock()
			instances = append(instances, inst)
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return instances
}

func (f *Finder) resolveOne(ctx context.Context, name string) (instance, bool) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return instance{}, false
	}
	defer conn.Close()

	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn(name), dns.TypeSRV)
	query.Question = append(query.Question, dns.Question{Name: dns.Fqdn(name), Qtype: dns.TypeTXT, Qclass: dns.ClassINET})
	buf, err := query.Pack()
	if err != nil {
		return instance{}, false
	}
	if _, err := conn.WriteToUDP(buf, mdns4Addr); err != nil {
		return instance{}, false
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(3 * time.Second)
	}
	conn.SetReadDeadline(deadline)

	var (
		host    string
		port    uint16
		txt     = map[string]string{}
		ifIndex int
	)
	respBuf := make([]byte, 65535)
	for {
		n, remote, err := conn.ReadFromUDP(respBuf)
		if err != nil {
			break
		}
		ifIndex = interfaceIndexFor(remote.IP)
		resp := new(dns.Msg)
		if err := resp.Unpack(respBuf[:n]); err != nil {
			continue
		}
		for _, a := range append(resp.Answer, resp.Extra...) {
			switch rec := a.(type) {
			case *dns.SRV:
				if strings.EqualFold(rec.Hdr.Name, name) {
					host = strings.TrimSuffix(rec.Target, ".")
					port = rec.Port
				}
			case *dns.TXT:
				if strings.EqualFold(rec.Hdr.Name, name) {
					for _, kv := range rec.Txt {
						k, v, found := strings.Cut(kv, "=")
						if found {
							txt[k] = v
						}
					}
				}
			case *dns.A:
				if host == "" || strings.EqualFold(rec.Hdr.Name, host+".") {
					host = rec.A.String()
				}
			case *dns.AAAA:
				if host == "" || strings.EqualFold(rec.Hdr.Name, host+".") {
					host = rec.AAAA.String()
				}
			}
		}
		if host != "" && port != 0 {
			break
		}
	}
	if host == "" || port == 0 {
		return instance{}, false
	}
	return instance{name: name, host: host, port: port, txt: txt, ifIndex: ifIndex}, true
}

func multicastInterfaces() ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []net.Interface
	for _, iface := range all {
		if iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		out = append(out, iface)
	}
	return out, nil
}

func interfaceIndexFor(ip net.IP) int {
	ifaces, err := net.Interfaces()
	if err != nil {
		return 0
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if ok && ipNet.Contains(ip) {
				return iface.Index
			}
		}
	}
	return 0
}
