// Command classify-snapshot runs the listing classifier over saved HTML
// pages, which helps when the blocked-page markers need adjusting.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/maltedev/asin-availability/internal/checker"
)

type result struct {
	File          string `json:"file"`
	IsBlockedPage bool   `json:"is_doggy"`
	Header        string `json:"header"`
	PageTitle     string `json:"page_title"`
	Error         string `json:"error,omitempty"`
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s page.html [page.html ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	enc := json.NewEncoder(os.Stdout)
	failed := false

	for _, path := range flag.Args() {
		res := classifyFile(path)
		if res.Error != "" {
			failed = true
		}
		if err := enc.Encode(res); err != nil {
			slog.Error("failed to write result", "file", path, "error", err)
			failed = true
		}
	}

	if failed {
		os.Exit(1)
	}
}

func classifyFile(path string) result {
	res := result{File: path}

	f, err := os.Open(path)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer f.Close()

	doc, err := checker.NewHTMLDocument(f)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	cls, err := checker.NewClassifier(checker.DefaultTitleTimeout).Classify(doc)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.IsBlockedPage = cls.IsBlockedPage
	res.Header = cls.TitleFragment
	res.PageTitle = cls.PageTitle
	return res
}
