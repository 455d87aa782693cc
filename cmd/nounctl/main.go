// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Command nounctl is the CLI front door for the runtime: it compiles
// surface-language source to wire-encoded nouns, evaluates a compiled
// formula against a subject, and runs a standing agent that listens for
// packets and evaluates whatever programs arrive as tasks.
//
// Real UDP I/O and identity-to-address resolution are deliberately not
// part of the mesh package (see mesh.Transport) -- this command is the
// "embedding program" that supplies them.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/nounrt/nounrt/lisp"
	"github.com/nounrt/nounrt/mesh"
	"github.com/nounrt/nounrt/noun"
	"github.com/nounrt/nounrt/storage"
	"github.com/nounrt/nounrt/vm"
)

const defaultTickBudget = 1_000_000

// config is the optional YAML config file's shape; any field a flag also
// covers is overridden by that flag when the flag is set explicitly.
type config struct {
	TickBudget  uint64 `json:"tickBudget"`
	StorageRoot string `json:"storageRoot"`
	ListenAddr  string `json:"listenAddr"`
}

func defaultConfig() config {
	return config{TickBudget: defaultTickBudget, ListenAddr: ":9735"}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	bs, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(bs, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func exitf(f string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, f+"\n", args...)
	os.Exit(1)
}

var usage = func() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "    %s [-config file] [-budget n] compile [-o out] [file]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "    %s [-config file] [-budget n] [-storage dir] eval [-subject file] <formula-file>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "    %s [-config file] [-budget n] [-storage dir] [-listen addr] agent [-peer id,dh@host:port]... [-knock id,dh@host:port]\n", os.Args[0])
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (tickBudget, storageRoot, listenAddr)")
	budget := flag.Uint64("budget", 0, "tick budget override")
	storageRoot := flag.String("storage", "", "filesystem storage root override (an in-memory store is used when empty)")
	listenAddr := flag.String("listen", "", "UDP listen address override for the agent subcommand")
	flag.Usage = usage
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		exitf("%s", err)
	}
	if *budget != 0 {
		cfg.TickBudget = *budget
	}
	if *storageRoot != "" {
		cfg.StorageRoot = *storageRoot
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	switch args[0] {
	case "compile":
		runCompile(args[1:])
	case "eval":
		runEval(args[1:], cfg)
	case "agent":
		runAgent(args[1:], cfg)
	default:
		usage()
		exitf("unknown subcommand %q", args[0])
	}
}

func runCompile(args []string) {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	out := fs.String("o", "-", "output file (- for stdout)")
	fs.Parse(args)

	var src []byte
	var err error
	if fs.NArg() == 0 || fs.Arg(0) == "-" {
		src, err = io.ReadAll(os.Stdin)
	} else {
		src, err = os.ReadFile(fs.Arg(0))
	}
	if err != nil {
		exitf("reading source: %s", err)
	}

	formula, err := lisp.Compile(string(src))
	if err != nil {
		exitf("compile: %s", err)
	}
	wire, err := noun.Serialize(formula, 0)
	if err != nil {
		exitf("serializing formula: %s", err)
	}
	writeOutput(*out, wire)
}

func writeOutput(path string, bs []byte) {
	if path == "-" {
		os.Stdout.Write(bs)
		return
	}
	if err := os.WriteFile(path, bs, 0644); err != nil {
		exitf("writing output: %s", err)
	}
}

func runEval(args []string, cfg config) {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	subjectPath := fs.String("subject", "", "wire-encoded subject noun (defaults to the empty atom)")
	fs.Parse(args)

	if fs.NArg() == 0 {
		exitf("usage: %s eval [-subject file] <formula-file>", os.Args[0])
	}
	formulaBytes, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		exitf("reading formula: %s", err)
	}
	formula, err := noun.Deserialize(formulaBytes)
	if err != nil {
		exitf("decoding formula: %s", err)
	}

	subject := noun.Atom(nil)
	if *subjectPath != "" {
		subjectBytes, err := os.ReadFile(*subjectPath)
		if err != nil {
			exitf("reading subject: %s", err)
		}
		subject, err = noun.Deserialize(subjectBytes)
		if err != nil {
			exitf("decoding subject: %s", err)
		}
	}

	store, err := newStore(cfg)
	if err != nil {
		exitf("opening storage: %s", err)
	}
	eff, err := newLocalEffector(store)
	if err != nil {
		exitf("starting local effector: %s", err)
	}

	ticks := noun.NewTicks(cfg.TickBudget)
	result, err := vm.Eval(subject, formula, eff, ticks)
	if err != nil {
		exitf("eval: %s", err)
	}

	wire, err := noun.Serialize(result, 0)
	if err != nil {
		exitf("serializing result: %s", err)
	}
	fmt.Printf("%s\n", hex.EncodeToString(wire))
	log.Printf("nounctl: consumed %d of %d ticks", ticks.Consumed(), cfg.TickBudget)
}

func newStore(cfg config) (storage.Store, error) {
	if cfg.StorageRoot == "" {
		return storage.NewMemoryStore(), nil
	}
	return storage.NewFilesystemStore(cfg.StorageRoot)
}

// newLocalEffector wraps a fresh, randomly keyed agent as a vm.Effector
// with no transport of its own, for one-shot "eval" invocations that
// never expect SEND to actually reach a peer.
func newLocalEffector(store storage.Store) (*mesh.Agent, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, err
	}
	return mesh.NewAgent(seed, store, noopTransport{}, func() uint64 { return uint64(time.Now().Unix()) })
}

type noopTransport struct{}

func (noopTransport) SendPacket(dest mesh.Identity, packet []byte) {
	log.Printf("nounctl: dropping outgoing packet to %x (no transport configured)", dest.Bytes())
}

// peerSpec is the agent subcommand's -peer/-knock flag shape:
// "<identity-hex>,<static-dh-hex>@<host>:<port>".
type peerSpec struct {
	identity mesh.Identity
	dh       [32]byte
	addr     *net.UDPAddr
}

func parsePeerSpec(s string) (peerSpec, error) {
	var out peerSpec
	at := strings.LastIndex(s, "@")
	if at < 0 {
		return out, fmt.Errorf("peer %q: missing @host:port", s)
	}
	keys, hostport := s[:at], s[at+1:]
	comma := strings.IndexByte(keys, ',')
	if comma < 0 {
		return out, fmt.Errorf("peer %q: missing <identity>,<dh> pair", s)
	}
	idHex, dhHex := keys[:comma], keys[comma+1:]

	idBytes, err := hex.DecodeString(idHex)
	if err != nil {
		return out, fmt.Errorf("peer %q: identity: %w", s, err)
	}
	identity, err := mesh.IdentityFromBytes(idBytes)
	if err != nil {
		return out, fmt.Errorf("peer %q: identity: %w", s, err)
	}
	dhBytes, err := hex.DecodeString(dhHex)
	if err != nil {
		return out, fmt.Errorf("peer %q: static dh: %w", s, err)
	}
	if len(dhBytes) != 32 {
		return out, fmt.Errorf("peer %q: static dh must be 32 bytes, got %d", s, len(dhBytes))
	}
	addr, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		return out, fmt.Errorf("peer %q: %w", s, err)
	}

	out.identity = identity
	copy(out.dh[:], dhBytes)
	out.addr = addr
	return out, nil
}

// stringSliceFlag collects a repeatable -peer flag.
type stringSliceFlag []string

func (s *stringSliceFlag) String() string { return strings.Join(*s, ",") }
func (s *stringSliceFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// udpTransport implements mesh.Transport over a real UDP socket, using a
// small static directory of known peer addresses -- identity-to-address
// resolution is explicitly an external contract the core mesh package
// does not provide.
type udpTransport struct {
	conn  *net.UDPConn
	peers map[mesh.Identity]*net.UDPAddr
}

func (t *udpTransport) SendPacket(dest mesh.Identity, packet []byte) {
	addr, ok := t.peers[dest]
	if !ok {
		log.Printf("nounctl: no known address for peer %x, dropping packet", dest.Bytes())
		return
	}
	if _, err := t.conn.WriteToUDP(packet, addr); err != nil {
		log.Printf("nounctl: sending packet to %s: %v", addr, err)
	}
}

func runAgent(args []string, cfg config) {
	fs := flag.NewFlagSet("agent", flag.ExitOnError)
	var peerFlags stringSliceFlag
	fs.Var(&peerFlags, "peer", "known peer as identityHex,dhHex@host:port (repeatable)")
	knock := fs.String("knock", "", "identityHex,dhHex@host:port of a peer to send a first-contact initiation packet to at startup")
	fs.Parse(args)

	addr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		exitf("resolving listen address %q: %s", cfg.ListenAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		exitf("listening on %s: %s", addr, err)
	}
	defer conn.Close()

	transport := &udpTransport{conn: conn, peers: make(map[mesh.Identity]*net.UDPAddr)}
	for _, p := range peerFlags {
		spec, err := parsePeerSpec(p)
		if err != nil {
			exitf("%s", err)
		}
		transport.peers[spec.identity] = spec.addr
	}

	store, err := newStore(cfg)
	if err != nil {
		exitf("opening storage: %s", err)
	}

	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		exitf("generating identity seed: %s", err)
	}
	agent, err := mesh.NewAgent(seed, store, transport, func() uint64 { return uint64(time.Now().Unix()) })
	if err != nil {
		exitf("starting agent: %s", err)
	}
	log.Printf("nounctl: listening on %s", addr)
	log.Printf("nounctl: identity %s", hex.EncodeToString(agent.Identity().Bytes()))
	log.Printf("nounctl: static dh  %s", hex.EncodeToString(agent.StaticDHPublic()[:]))

	if *knock != "" {
		spec, err := parsePeerSpec(*knock)
		if err != nil {
			exitf("%s", err)
		}
		transport.peers[spec.identity] = spec.addr
		if err := agent.InitiateStreamWith(spec.identity, spec.dh); err != nil {
			log.Printf("nounctl: initiating stream with %x: %v", spec.identity.Bytes(), err)
		}
	}

	go readLoop(conn, agent)

	for task := range agent.Tasks() {
		ticks := noun.NewTicks(cfg.TickBudget)
		result, err := vm.Eval(noun.Atom(nil), task.Program, agent, ticks)
		if err != nil {
			log.Printf("nounctl: task %s from %x failed: %v", task.ID, task.Requestor.Bytes(), err)
			continue
		}
		wire, err := noun.Serialize(result, 0)
		if err != nil {
			log.Printf("nounctl: task %s: serializing result: %v", task.ID, err)
			continue
		}
		log.Printf("nounctl: task %s from %x => %s (ticks %d/%d)", task.ID, task.Requestor.Bytes(), hex.EncodeToString(wire), ticks.Consumed(), cfg.TickBudget)
	}
}

func readLoop(conn *net.UDPConn, agent *mesh.Agent) {
	buf := make([]byte, 65535)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			log.Printf("nounctl: udp read: %v", err)
			return
		}
		packet := make([]byte, n)
		copy(packet, buf[:n])
		if err := agent.HandlePacket(packet); err != nil {
			log.Printf("nounctl: handling packet: %v", err)
		}
	}
}
