package incident

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode"

	"github.com/zero-day-ai/threatmap/threaterr"
)

const opDecode = "incident.Decode"

// Decode reads incidents from r, either as one JSON array or as a stream of
// JSON objects (JSON Lines). Records are returned as read; validation is left
// to the classifier so that invalid incidents are counted rather than fatal.
// Every record must carry an ID. Malformed input and records without an ID
// are invalid_input errors.
func Decode(r io.Reader) ([]Incident, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read incidents: %w", err)
	}

	dec := json.NewDecoder(br)
	var out []Incident

	if first == '[' {
		if err := dec.Decode(&out); err != nil {
			return nil, threaterr.InvalidInput(opDecode, "", "malformed incident array").WithCause(err)
		}
	} else {
		for {
			var inc Incident
			err := dec.Decode(&inc)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, threaterr.InvalidInput(opDecode, "", fmt.Sprintf("malformed incident %d", len(out)+1)).WithCause(err)
			}
			out = append(out, inc)
		}
	}

	for i, inc := range out {
		if inc.ID == "" {
			return nil, threaterr.InvalidInput(opDecode, "id", fmt.Sprintf("incident %d: id is required", i+1))
		}
	}
	return out, nil
}

func peekNonSpace(br *bufio.Reader) (rune, error) {
	for {
		r, _, err := br.ReadRune()
		if err != nil {
			return 0, err
		}
		if !unicode.IsSpace(r) {
			return r, br.UnreadRune()
		}
	}
}
