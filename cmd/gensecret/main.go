// Generate random key to sign access tokens with (SECRET_KEY)
package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

const (
	defaultKeyLen = 32
	minKeyLen     = 32
)

func main() {
	if err := run(os.Args[1:], rand.Reader, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, random io.Reader, out io.Writer) error {
	fs := pflag.NewFlagSet("gensecret", pflag.ContinueOnError)
	n := fs.IntP("bytes", "b", defaultKeyLen, "Key length in bytes")
	format := fs.StringP("format", "f", "hex", "Output format: hex or base64")
	envLine := fs.Bool("env", false, "Print as SECRET_KEY=... line for .env file")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *n < minKeyLen {
		return fmt.Errorf("key shorter than %d bytes is too weak for HS256", minKeyLen)
	}

	b := make([]byte, *n)
	if _, err := io.ReadFull(random, b); err != nil {
		return err
	}

	var key string
	switch *format {
	case "hex":
		key = hex.EncodeToString(b)
	case "base64":
		key = base64.RawURLEncoding.EncodeToString(b)
	default:
		return errors.New("unknown format, use hex or base64")
	}

	if *envLine {
		key = "SECRET_KEY=" + key
	}

	_, err := fmt.Fprintln(out, key)
	return err
}
