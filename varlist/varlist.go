// Package varlist loads the plain-text variable list table: name,
// forward-to-sink flag, hex/decimal address, and decoder type tag.
package varlist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/vogelchr/vitolink/decoder"
)

// VariableDescriptor describes one data point: where to read it, how long
// it is, and how to decode and display it. Immutable after Load.
type VariableDescriptor struct {
	Name       string
	Forward    bool
	Address    uint16
	PayloadLen uint8
	Tag        string
	Decoder    decoder.Decoder
}

var trueTokens = map[string]bool{
	"yes": true, "true": true, "t": true, "y": true,
	"1": true, "x": true, "✓": true, "🗸": true,
}

var falseTokens = map[string]bool{
	"no": true, "false": true, "f": true, "n": true,
	"0": true, "-": true,
}

func parseForward(tok string) (bool, error) {
	s := strings.ToLower(strings.TrimSpace(tok))
	if trueTokens[s] {
		return true, nil
	}
	if falseTokens[s] {
		return false, nil
	}
	return false, fmt.Errorf("cannot parse %q as yes/no/true/false", tok)
}

func parseAddress(tok string) (uint16, error) {
	v, err := strconv.ParseUint(tok, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("cannot parse %q as an address: %w", tok, err)
	}
	return uint16(v), nil
}

// Load parses a variable list file at path.
func Load(path string) ([]VariableDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parse(f, path)
}

func parse(r io.Reader, name string) ([]VariableDescriptor, error) {
	var out []VariableDescriptor

	scanner := bufio.NewScanner(r)
	lno := 0
	for scanner.Scan() {
		lno++
		line := scanner.Text()
		if ix := strings.IndexByte(line, '#'); ix != -1 {
			line = line[:ix]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, fmt.Errorf("%s:%d: not enough columns, need at least 4", name, lno)
		}

		varName, forwardTok, addrTok, tagOrLen := fields[0], fields[1], fields[2], fields[3]

		forward, err := parseForward(forwardTok)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, lno, err)
		}

		addr, err := parseAddress(addrTok)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, lno, err)
		}

		dec, err := decoder.Lookup(tagOrLen)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, lno, err)
		}

		out = append(out, VariableDescriptor{
			Name:       varName,
			Forward:    forward,
			Address:    addr,
			PayloadLen: dec.PayloadLen,
			Tag:        tagOrLen,
			Decoder:    dec,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	return out, nil
}
