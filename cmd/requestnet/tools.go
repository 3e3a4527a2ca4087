package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/mattjoyce/requestnet/pkg/schema"
	"github.com/mattjoyce/requestnet/pkg/webhook"
)

// readPayload reads the file at path, or stdin for "" and "-".
func readPayload(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func runSign(args []string) int {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	secret := fs.String("secret", "", "Webhook secret (required)")
	file := fs.String("file", "-", "Payload file, - for stdin")
	prefix := fs.Bool("prefix", false, "Prefix the signature with sha256=")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *secret == "" {
		fmt.Fprintln(os.Stderr, "Usage: requestnet sign --secret <secret> [--file <payload>] [--prefix]")
		return 1
	}

	body, err := readPayload(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read payload: %v\n", err)
		return 1
	}

	sig := webhook.Sign(body, *secret)
	if *prefix {
		sig = webhook.FormatSignature(sig)
	}
	fmt.Println(sig)
	return 0
}

func runVerify(args []string) int {
	var secrets stringList
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.Var(&secrets, "secret", "Webhook secret; repeat to try several during rotation")
	signature := fs.String("signature", "", "Signature to check (required)")
	file := fs.String("file", "-", "Payload file, - for stdin")
	timestamp := fs.String("timestamp", "", "Delivery timestamp, checked when --tolerance is set")
	tolerance := fs.Duration("tolerance", 0, "Maximum age of the delivery timestamp")
	unit := fs.String("timestamp-unit", string(webhook.TimestampAuto), "Integer timestamp unit: auto, seconds or milliseconds")
	parse := fs.Bool("parse", false, "Also validate the payload against the event schemas")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if len(secrets) == 0 || *signature == "" {
		fmt.Fprintln(os.Stderr, "Usage: requestnet verify --secret <secret> --signature <sig> [--file <payload>]")
		return 1
	}
	if *tolerance > 0 && *timestamp == "" {
		fmt.Fprintln(os.Stderr, "--tolerance requires --timestamp")
		return 1
	}

	body, err := readPayload(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read payload: %v\n", err)
		return 1
	}

	const tsHeader = "x-request-network-timestamp"
	headers := map[string]string{webhook.DefaultSignatureHeader: *signature}
	if *timestamp != "" {
		headers[tsHeader] = *timestamp
	}
	opts := webhook.ParseOptions{
		RawBody:         body,
		Headers:         headers,
		Secrets:         secrets,
		TimestampHeader: tsHeader,
		Tolerance:       *tolerance,
		TimestampUnit:   webhook.TimestampUnit(*unit),
	}

	if !*parse {
		v, err := webhook.Verify(webhook.VerifyOptions{
			RawBody:         body,
			Headers:         headers,
			Secrets:         secrets,
			TimestampHeader: tsHeader,
			Tolerance:       *tolerance,
			TimestampUnit:   webhook.TimestampUnit(*unit),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			return 1
		}
		fmt.Printf("VALID: matched secret #%d\n", v.MatchedIndex)
		return 0
	}

	ev, err := webhook.Parse(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
		return 1
	}
	fmt.Printf("VALID: %s (matched secret #%d, fingerprint %s)\n", ev.Event(), ev.MatchedSecretIndex(), ev.Fingerprint())
	return 0
}

func runSend(args []string) int {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	url := fs.String("url", "", "Receiver URL (required)")
	secret := fs.String("secret", "", "Webhook secret (required)")
	file := fs.String("file", "-", "Payload file, - for stdin")
	header := fs.String("header", webhook.DefaultSignatureHeader, "Signature header name")
	tsHeader := fs.String("timestamp-header", "", "Also send the current time in ms under this header")
	timeout := fs.Duration("timeout", 10*time.Second, "Request timeout")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *url == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "Usage: requestnet send --url <url> --secret <secret> [--file <payload>]")
		return 1
	}

	body, err := readPayload(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read payload: %v\n", err)
		return 1
	}

	req, err := http.NewRequest(http.MethodPost, *url, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid request: %v\n", err)
		return 1
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(*header, webhook.Sign(body, *secret))
	if *tsHeader != "" {
		req.Header.Set(*tsHeader, strconv.FormatInt(time.Now().UnixMilli(), 10))
	}

	client := &http.Client{Timeout: *timeout}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	fmt.Printf("%s\n%s", resp.Status, respBody)
	if resp.StatusCode >= 300 {
		return 1
	}
	return 0
}

func runEvents(args []string) int {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	names := schema.Default().Events()
	if *jsonOut {
		return printJSON(names)
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return 0
}
