// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package capture

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/siemens/blackdig/types"

	"go.uber.org/zap"
)

// maxEkLineLength limits the length of a single line of tshark's EK output.
const maxEkLineLength = 1024 * 1024

// tsharkReader leaves the dissection to an external tshark process and reads
// the packet addresses from tshark's Elasticsearch ("EK") JSON lines output.
type tsharkReader struct {
	name      string
	log       *zap.SugaredLogger
	cancel    context.CancelFunc
	cmd       *exec.Cmd
	stderr    bytes.Buffer
	lines     *bufio.Scanner
	stats     stats
	done      bool
	err       error
	closeOnce sync.Once
}

// tsharkArgs returns the tshark CLI args for reading only the IP addresses
// from the named capture file.
func tsharkArgs(name string) []string {
	return []string{
		"-r", name,
		"-n", "-T", "ek",
		"-e", "ip.src", "-e", "ip.dst",
		"-e", "ipv6.src", "-e", "ipv6.dst",
	}
}

func openTshark(ctx context.Context, name string, o *options) (*tsharkReader, error) {
	// tshark would happily start and then complain about a missing file, so
	// we check ourselves upfront.
	if _, err := os.Stat(name); err != nil {
		return nil, err
	}
	tshark, err := exec.LookPath(o.tshark)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &tsharkReader{
		name:   name,
		log:    o.log,
		cancel: cancel,
	}
	r.cmd = exec.CommandContext(ctx, tshark, tsharkArgs(name)...)
	r.cmd.Stderr = &r.stderr
	r.cmd.WaitDelay = time.Second
	stdout, err := r.cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := r.cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("cannot start tshark: %w", err)
	}
	o.log.Debugw("started tshark", "capture", name, "tshark", tshark, "pid", r.cmd.Process.Pid)
	r.lines = bufio.NewScanner(stdout)
	r.lines.Buffer(make([]byte, 0, 64*1024), maxEkLineLength)
	return r, nil
}

func (r *tsharkReader) Next() (types.PacketEndpoints, bool) {
	if r.done {
		return types.PacketEndpoints{}, false
	}
	for r.lines.Scan() {
		line := bytes.TrimSpace(r.lines.Bytes())
		if len(line) == 0 {
			continue
		}
		ep, kind := parseEkLine(line)
		switch kind {
		case ekIndex:
			continue
		case ekMalformed:
			r.log.Debugw("cannot decode tshark packet",
				"capture", r.name, "packet", r.stats.Packets+1)
			return r.stats.packet(types.PacketEndpoints{}, true), true
		}
		return r.stats.packet(ep, false), true
	}
	r.finish()
	return types.PacketEndpoints{}, false
}

// finish reaps the tshark process after its output has been exhausted.
func (r *tsharkReader) finish() {
	r.done = true
	scanErr := r.lines.Err()
	var waitErr error
	r.closeOnce.Do(func() {
		waitErr = r.cmd.Wait()
		r.cancel()
	})
	if scanErr == nil && waitErr == nil {
		return
	}
	err := waitErr
	if scanErr != nil {
		err = scanErr
	}
	msg := strings.TrimSpace(r.stderr.String())
	if r.stats.Packets == 0 {
		r.err = fmt.Errorf("tshark failed: %w: %s", err, msg)
		return
	}
	r.log.Warnw("tshark stopped early, ignoring the remainder",
		"capture", r.name, "packets", r.stats.Packets, "error", err, "stderr", msg)
}

func (r *tsharkReader) Err() error { return r.err }

// Close terminates tshark if it is still running.
func (r *tsharkReader) Close() error {
	r.done = true
	r.closeOnce.Do(func() {
		r.cancel()
		_ = r.cmd.Wait()
	})
	return nil
}

func (r *tsharkReader) Stats() Stats { return Stats(r.stats) }

// ekKind classifies the lines of tshark's EK output.
type ekKind int

const (
	ekPacket ekKind = iota
	ekIndex
	ekMalformed
)

// ekLine is a single line of "tshark -T ek" output, which is either a bulk
// index line or a packet line. For fields selected using "-e", tshark
// flattens the layers and replaces dots in field names with underscores.
type ekLine struct {
	Index  json.RawMessage `json:"index"`
	Layers *ekLayers       `json:"layers"`
}

type ekLayers struct {
	IPSrc   []string `json:"ip_src"`
	IPDst   []string `json:"ip_dst"`
	IPv6Src []string `json:"ipv6_src"`
	IPv6Dst []string `json:"ipv6_dst"`
}

// parseEkLine returns the packet endpoints of a single EK output line. In
// case of tunneled packets the outermost addresses win.
func parseEkLine(line []byte) (types.PacketEndpoints, ekKind) {
	var ek ekLine
	if err := json.Unmarshal(line, &ek); err != nil {
		return types.PacketEndpoints{}, ekMalformed
	}
	if ek.Layers == nil {
		if ek.Index != nil {
			return types.PacketEndpoints{}, ekIndex
		}
		return types.PacketEndpoints{}, ekMalformed
	}
	src, dst := first(ek.Layers.IPSrc), first(ek.Layers.IPDst)
	if src == "" && dst == "" {
		src, dst = first(ek.Layers.IPv6Src), first(ek.Layers.IPv6Dst)
	}
	return types.Endpoints(src, dst), ekPacket
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
