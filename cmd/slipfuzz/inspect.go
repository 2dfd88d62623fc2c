package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/slipfuzz/slipfuzz/internal/capture"
	"github.com/slipfuzz/slipfuzz/internal/protocol"
	"github.com/slipfuzz/slipfuzz/internal/transport"
)

func inspectCmd() *cobra.Command {
	var (
		padArity int
		dataOnly bool
	)

	cmd := &cobra.Command{
		Use:   "inspect <capture.pcap>",
		Short: "Print the datagrams of a recorded session",
		Long: `Read a capture written with --capture-file and print every datagram: its
transport header, and for data datagrams the decoded message or relay JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkts, err := capture.ReadFile(args[0])
			if err != nil {
				return err
			}
			codec := protocol.NewCodec(padArity)
			for _, p := range pkts {
				printPacket(cmd.OutOrStdout(), codec, p, dataOnly)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&padArity, "pad-arity", protocol.DefaultPadArity, "Pad words per input frame")
	cmd.Flags().BoolVar(&dataOnly, "data-only", false, "Skip handshake, keepalive and ack datagrams")
	return cmd
}

func printPacket(w io.Writer, codec *protocol.Codec, p capture.Packet, dataOnly bool) {
	prefix := fmt.Sprintf("%s  %s -> %s", p.Timestamp.Format("15:04:05.000"), p.Src, p.Dst)

	d, err := transport.ParseDatagram(p.Payload)
	if err != nil {
		fmt.Fprintf(w, "%s  malformed datagram: %v\n", prefix, err)
		return
	}
	if d.Kind != "DATA" {
		if !dataOnly {
			fmt.Fprintf(w, "%s  %s seq=%d\n", prefix, d.Kind, d.Seq)
		}
		return
	}

	mode := "unreliable"
	if d.Reliable {
		mode = "reliable"
	}
	fmt.Fprintf(w, "%s  %s %s seq=%d  %s\n", prefix, d.Kind, mode, d.Seq, describePayload(codec, d.Payload))
}

// describePayload decodes a game message, or shows relay JSON as text.
func describePayload(codec *protocol.Codec, payload []byte) string {
	if trimmed := bytes.TrimSpace(payload); len(trimmed) > 0 && trimmed[0] == '{' {
		return string(trimmed)
	}
	msg, err := codec.Decode(payload)
	if err != nil {
		return fmt.Sprintf("%s (%v)", hex.EncodeToString(payload), err)
	}
	return protocol.Summary(msg)
}
