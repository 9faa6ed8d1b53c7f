package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// printer handles formatted output
type printer struct {
	format OutputFormat
	writer io.Writer
}

func newPrinter(format string, w io.Writer) (*printer, error) {
	switch f := OutputFormat(format); f {
	case OutputFormatText, OutputFormatJSON:
		return &printer{format: f, writer: w}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %s", format)
	}
}

// KeyRecord is one generated key pair, hex encoded.
type KeyRecord struct {
	Secret string `json:"secret"`
	Public string `json:"public"`
}

// CeremonyRecord is the result of a signing ceremony, hex encoded.
type CeremonyRecord struct {
	Curve         string   `json:"curve"`
	Hasher        string   `json:"hasher"`
	PublicKeys    []string `json:"public_keys"`
	AggregatedKey string   `json:"aggregated_key"`
	Message       string   `json:"message"`
	Signature     string   `json:"signature"`
}

// VerifyRecord is the result of a signature check.
type VerifyRecord struct {
	Valid bool `json:"valid"`
}

func (p *printer) printKeys(keys []KeyRecord) error {
	if p.format == OutputFormatJSON {
		return p.printJSON(map[string]any{"keys": keys})
	}
	for i, k := range keys {
		if i > 0 {
			fmt.Fprintln(p.writer)
		}
		fmt.Fprintf(p.writer, "secret: %s\n", k.Secret)
		fmt.Fprintf(p.writer, "public: %s\n", k.Public)
	}
	return nil
}

func (p *printer) printAggregatedKey(key string) error {
	if p.format == OutputFormatJSON {
		return p.printJSON(map[string]string{"aggregated_key": key})
	}
	fmt.Fprintln(p.writer, key)
	return nil
}

func (p *printer) printCeremony(r CeremonyRecord) error {
	if p.format == OutputFormatJSON {
		return p.printJSON(r)
	}
	fmt.Fprintf(p.writer, "Curve:          %s\n", r.Curve)
	fmt.Fprintf(p.writer, "Hasher:         %s\n", r.Hasher)
	fmt.Fprintf(p.writer, "Signers:        %d\n", len(r.PublicKeys))
	for i, k := range r.PublicKeys {
		fmt.Fprintf(p.writer, "  %d: %s\n", i+1, k)
	}
	fmt.Fprintf(p.writer, "Aggregated key: %s\n", r.AggregatedKey)
	fmt.Fprintf(p.writer, "Message:        %s\n", r.Message)
	fmt.Fprintf(p.writer, "Signature:      %s\n", r.Signature)
	return nil
}

func (p *printer) printVerify(r VerifyRecord) error {
	if p.format == OutputFormatJSON {
		return p.printJSON(r)
	}
	if r.Valid {
		fmt.Fprintln(p.writer, "signature valid")
	} else {
		fmt.Fprintln(p.writer, "signature INVALID")
	}
	return nil
}

func (p *printer) printJSON(v any) error {
	enc := json.NewEncoder(p.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
