package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/slipfuzz/slipfuzz/internal/protocol"
)

func decodeCmd() *cobra.Command {
	var padArity int

	cmd := &cobra.Command{
		Use:   "decode <hex>...",
		Short: "Decode captured protocol messages",
		Long: `Decode one or more hex-encoded messages, such as the payloads printed by
'slipfuzz inspect' or found in an events log, and print them on one line each.
Spaces, colons and a leading 0x are ignored.`,
		Example: `  slipfuzz decode 84000000010a
  slipfuzz decode "80 ff ff ff 85 00 00 00 00 00 00 00 00 00"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec := protocol.NewCodec(padArity)
			failed := 0
			for _, arg := range args {
				line, err := decodeHex(codec, arg)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", arg, err)
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d messages failed to decode", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&padArity, "pad-arity", protocol.DefaultPadArity, "Pad words per input frame")
	return cmd
}

func decodeHex(codec *protocol.Codec, s string) (string, error) {
	data, err := parseHex(s)
	if err != nil {
		return "", err
	}
	msg, err := codec.Decode(data)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			return "", fmt.Errorf("%s: %w", de.Reason(), err)
		}
		return "", err
	}
	return protocol.Summary(msg), nil
}

func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	s = strings.NewReplacer(" ", "", ":", "", "\t", "").Replace(s)
	if s == "" {
		return nil, errors.New("empty message")
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return data, nil
}
