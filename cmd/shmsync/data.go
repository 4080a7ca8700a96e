package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/valyala/bytebufferpool"
)

var dumpLength int

var putCmd = &cobra.Command{
	Use:     "put NAME OFFSET VALUE",
	Short:   "Write one byte of a segment under its lock",
	Example: `  shmsync put idx_cache 0 0x01`,
	Args:    cobra.ExactArgs(3),
	RunE:    runPut,
}

var getCmd = &cobra.Command{
	Use:     "get NAME OFFSET",
	Short:   "Read one byte of a segment under its lock",
	Example: `  shmsync get idx_cache 1`,
	Args:    cobra.ExactArgs(2),
	RunE:    runGet,
}

var dumpCmd = &cobra.Command{
	Use:   "dump NAME",
	Short: "Hex dump the start of a segment under its lock",
	Args:  cobra.ExactArgs(1),
	RunE:  runDump,
}

func init() {
	dumpCmd.Flags().IntVarP(&dumpLength, "length", "n", 256, "number of bytes to dump, 0 for all")
	rootCmd.AddCommand(putCmd, getCmd, dumpCmd)
}

func parseOffset(s string, size int) (int, error) {
	off, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q: %w", s, err)
	}
	if off < 0 || off >= size {
		return 0, fmt.Errorf("offset %d outside segment of %d bytes", off, size)
	}
	return off, nil
}

func runPut(cmd *cobra.Command, args []string) error {
	value, err := strconv.ParseUint(args[2], 0, 8)
	if err != nil {
		return fmt.Errorf("invalid byte value %q: %w", args[2], err)
	}
	mu, seg, release, err := attach(cmd, args[0])
	if err != nil {
		return err
	}
	defer release()

	off, err := parseOffset(args[1], seg.Size())
	if err != nil {
		return err
	}
	return factory.WithLock(mu, func() error {
		seg.Bytes()[off] = byte(value)
		return nil
	})
}

func runGet(cmd *cobra.Command, args []string) error {
	mu, seg, release, err := attach(cmd, args[0])
	if err != nil {
		return err
	}
	defer release()

	off, err := parseOffset(args[1], seg.Size())
	if err != nil {
		return err
	}
	var value byte
	_ = factory.WithLock(mu, func() error {
		value = seg.Bytes()[off]
		return nil
	})
	fmt.Fprintf(cmd.OutOrStdout(), "0x%02x\n", value)
	return nil
}

func runDump(cmd *cobra.Command, args []string) error {
	mu, seg, release, err := attach(cmd, args[0])
	if err != nil {
		return err
	}
	defer release()

	n := dumpLength
	if n <= 0 || n > seg.Size() {
		n = seg.Size()
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	// render under the lock, print after releasing it
	_ = factory.WithLock(mu, func() error {
		dumper := hex.Dumper(buf)
		_, _ = dumper.Write(seg.Bytes()[:n])
		return dumper.Close()
	})
	_, err = cmd.OutOrStdout().Write(buf.B)
	if err == nil && n < seg.Size() {
		fmt.Fprintf(cmd.ErrOrStderr(), "... %d of %d bytes shown\n", n, seg.Size())
	}
	return err
}
