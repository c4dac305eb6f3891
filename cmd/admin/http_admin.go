package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

func listingsCmd(args []string) {
	fs := flag.NewFlagSet("listings", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	httpGet(*baseURL, "/v1/market/listings")
}

func boxCmd(args []string) {
	fs := flag.NewFlagSet("box", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	boxID := fs.Uint64("id", 0, "box type id")
	supply := fs.Bool("supply", false, "print remaining supply instead of type info")
	_ = fs.Parse(args)

	if *boxID == 0 {
		fmt.Fprintln(os.Stderr, "missing -id")
		os.Exit(2)
	}
	path := "/v1/boxes/" + strconv.FormatUint(*boxID, 10)
	if *supply {
		path += "/supply"
	}
	httpGet(*baseURL, path)
}

func auditsCmd(args []string) {
	fs := flag.NewFlagSet("audits", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	limit := fs.Int("limit", 50, "result limit")
	caller := fs.String("caller", "", "filter by caller (optional)")
	_ = fs.Parse(args)

	q := url.Values{}
	q.Set("limit", strconv.Itoa(*limit))
	if strings.TrimSpace(*caller) != "" {
		q.Set("caller", strings.TrimSpace(*caller))
	}
	httpGet(*baseURL, "/v1/audits?"+q.Encode())
}

func httpGet(baseURL, path string) {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
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
