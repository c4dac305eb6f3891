package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"herovault.gg/internal/protocol"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "op":
			opCmd(os.Args[2:])
			return
		case "grant":
			grantCmd(os.Args[2:])
			return
		case "listings":
			listingsCmd(os.Args[2:])
			return
		case "box":
			boxCmd(os.Args[2:])
			return
		case "audits":
			auditsCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		}
	}
	usage()
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: admin op|grant|listings|box|audits|db [flags]")
	fmt.Fprintln(os.Stderr, "  op       submit an op frame from a file or stdin")
	fmt.Fprintln(os.Stderr, "  grant    grant a capability to a principal")
	fmt.Fprintln(os.Stderr, "  listings print open market listings")
	fmt.Fprintln(os.Stderr, "  box      print box type info and remaining supply")
	fmt.Fprintln(os.Stderr, "  audits   print recent audit entries over http")
	fmt.Fprintln(os.Stderr, "  db       query the sqlite audit index directly")
	os.Exit(2)
}

// opCmd reads a full op frame as JSON and posts it to the server's admin
// endpoint. Missing type and protocol_version fields are stamped in so a
// frame can be written by hand as just {"op":...,"caller":...,...}.
func opCmd(args []string) {
	fs := flag.NewFlagSet("op", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	token := fs.String("token", "", "admin bearer token")
	file := fs.String("file", "", "frame path (defaults to stdin)")
	caller := fs.String("caller", "", "override frame caller (optional)")
	_ = fs.Parse(args)

	var src io.Reader = os.Stdin
	if strings.TrimSpace(*file) != "" {
		f, err := os.Open(*file)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open:", err)
			os.Exit(1)
		}
		defer f.Close()
		src = f
	}
	raw, err := io.ReadAll(src)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}

	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		fmt.Fprintln(os.Stderr, "unmarshal:", err)
		os.Exit(1)
	}
	if _, ok := frame["type"]; !ok {
		frame["type"] = protocol.TypeOp
	}
	if _, ok := frame["protocol_version"]; !ok {
		frame["protocol_version"] = protocol.Version
	}
	if strings.TrimSpace(*caller) != "" {
		frame["caller"] = strings.TrimSpace(*caller)
	}

	postOp(*baseURL, *token, frame)
}

func grantCmd(args []string) {
	fs := flag.NewFlagSet("grant", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	token := fs.String("token", "", "admin bearer token")
	caller := fs.String("caller", "", "granting principal (must hold Admin)")
	to := fs.String("to", "", "principal receiving the capability")
	capName := fs.String("cap", "", "capability name (admin|manager|spawner|setter|oracle)")
	scope := fs.String("scope", "", "component scope (market|box|shard|boxes|heroes|shards)")
	_ = fs.Parse(args)

	for name, v := range map[string]string{"-caller": *caller, "-to": *to, "-cap": *capName, "-scope": *scope} {
		if strings.TrimSpace(v) == "" {
			fmt.Fprintln(os.Stderr, "missing", name)
			os.Exit(2)
		}
	}

	postOp(*baseURL, *token, map[string]any{
		"type":             protocol.TypeOp,
		"protocol_version": protocol.Version,
		"op":               protocol.OpAccessGrant,
		"caller":           strings.TrimSpace(*caller),
		"to":               strings.TrimSpace(*to),
		"capability":       strings.TrimSpace(*capName),
		"scope":            strings.TrimSpace(*scope),
	})
}

func postOp(baseURL, token string, frame map[string]any) {
	body, err := json.Marshal(frame)
	if err != nil {
		fmt.Fprintln(os.Stderr, "marshal:", err)
		os.Exit(1)
	}

	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/v1/admin/op"
	req, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
