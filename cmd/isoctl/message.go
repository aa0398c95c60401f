package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aeolun/fraudengine/pkg/client"
	"github.com/aeolun/fraudengine/pkg/inspect"
	"github.com/aeolun/fraudengine/pkg/protocol"
)

var (
	template   string
	mti        string
	fieldArgs  []string
	stan       string
	pan        string
	amount     float64
	location   string
	terminalID string

	framed    bool
	inputFile string
	showTrace bool
)

// buildMessage starts from the template and applies the -f overrides
func buildMessage(now time.Time) (*protocol.Message, error) {
	var m *protocol.Message
	switch template {
	case "auth":
		auth := client.DefaultAuthorization()
		if pan != "" {
			auth.PAN = pan
		}
		if amount > 0 {
			auth.AmountMinor = int64(amount*100 + 0.5)
		}
		if location != "" {
			auth.Location = location
		}
		if terminalID != "" {
			auth.TerminalID = terminalID
		}
		m = auth.Message(stan, now)
	case "echo":
		m = client.EchoRequest(stan, now)
	case "", "none":
		m = protocol.NewMessage("0200")
	default:
		return nil, fmt.Errorf("unknown template %q (auth, echo, none)", template)
	}
	if mti != "" {
		m.MTI = mti
	}

	for _, arg := range fieldArgs {
		num, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("invalid field %q, want N=VALUE", arg)
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return nil, fmt.Errorf("invalid field number %q", num)
		}
		if _, ok := registry.Describe(n); !ok {
			return nil, fmt.Errorf("field %d is not in the ISO 8583:1987 catalogue", n)
		}
		if value == "" {
			m.Unset(n)
		} else {
			m.Set(n, value)
		}
	}
	return m, nil
}

var encodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Build a message and print it as hex",
	Example: `  isoctl encode --template auth --amount 2000 --location RISKY-COUNTRY
  isoctl encode --template none --mti 0800 -f 7=0109103758 -f 11=000001 -f 70=001`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := buildMessage(time.Now())
		if err != nil {
			return err
		}
		data, err := codec.Pack(m)
		if err != nil {
			return fmt.Errorf("failed to encode: %w", err)
		}
		if framed {
			if data, err = protocol.EncodeFrame(data); err != nil {
				return err
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(data))
		return nil
	},
}

var decodeCmd = &cobra.Command{
	Use:   "decode [hex]",
	Short: "Decode a message given as hex or read from a file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(cmd, args)
		if err != nil {
			return err
		}
		if framed {
			if len(data) < protocol.FrameHeaderSize {
				return fmt.Errorf("input shorter than the frame header")
			}
			data = data[protocol.FrameHeaderSize:]
		}

		out := cmd.OutOrStdout()
		m, err := codec.UnpackTrace(data, func(t protocol.FieldTrace) {
			if !showTrace {
				return
			}
			if t.Err != nil {
				fmt.Fprintf(out, "TRACE field=%d offset=%d FAILED: %v\n", t.Field, t.Offset, t.Err)
				return
			}
			fmt.Fprintf(out, "TRACE field=%d offset=%d len=%d value=%s\n", t.Field, t.Offset, t.Consumed, protocol.Printable(t.Value))
		})
		if err != nil {
			return fmt.Errorf("failed to decode: %w", err)
		}

		fmt.Fprintf(out, "MTI: %s\n", m.MTI)
		fmt.Fprint(out, formatter.Format(inspect.FieldRows(registry, m)))
		return nil
	},
}

// readInput returns the bytes of the hex argument, or of --file ("-" reads
// stdin). File input may be raw bytes or hex text.
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 1 {
		return decodeHex(args[0])
	}
	if inputFile == "" {
		return nil, fmt.Errorf("pass a hex message or --file")
	}

	var (
		raw []byte
		err error
	)
	if inputFile == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(inputFile)
	}
	if err != nil {
		return nil, err
	}
	if data, err := decodeHex(string(raw)); err == nil {
		return data, nil
	}
	return raw, nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return data, nil
}

func addMessageFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&template, "template", "t", "auth", "starting message: auth, echo, none")
	cmd.Flags().StringVar(&mti, "mti", "", "override the MTI")
	cmd.Flags().StringArrayVarP(&fieldArgs, "field", "f", nil, "set a field, N=VALUE (empty VALUE removes it); repeatable")
	cmd.Flags().StringVar(&stan, "stan", "000001", "system trace audit number (field 11)")
	cmd.Flags().StringVar(&pan, "pan", "", "card number for the auth template")
	cmd.Flags().Float64Var(&amount, "amount", 0, "amount in major units for the auth template")
	cmd.Flags().StringVar(&location, "location", "", "merchant location (field 43) for the auth template")
	cmd.Flags().StringVar(&terminalID, "terminal", "", "terminal ID (field 41) for the auth template")
}

func init() {
	addMessageFlags(encodeCmd)
	encodeCmd.Flags().BoolVar(&framed, "framed", false, "prefix the 2-byte length header")

	decodeCmd.Flags().StringVar(&inputFile, "file", "", "read the message from a file (- for stdin)")
	decodeCmd.Flags().BoolVar(&framed, "framed", false, "input starts with the 2-byte length header")
	decodeCmd.Flags().BoolVar(&showTrace, "trace", false, "print the per-field unpack trace")

	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(decodeCmd)
}
