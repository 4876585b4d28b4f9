package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/netshade/rulescan/parser"
	"github.com/netshade/rulescan/scanner"
)

func main() {
	threads := flag.Int("threads", 4, "stripe worker count per scanned block")
	quiet := flag.Bool("quiet", false, "only print matching paths, no summary")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <rules.yar> <path>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(1)
	}
	rulesFile, scanPath := flag.Arg(0), flag.Arg(1)

	p := parser.New()
	ruleSet, err := p.ParseFile(rulesFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error parsing rules: %v\n", err)
		os.Exit(1)
	}

	ctx, err := scanner.Compile(ruleSet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error compiling rules: %v\n", err)
		os.Exit(1)
	}

	if !*quiet {
		fmt.Fprintf(os.Stderr, "compiled %d rules\n", ctx.NumRules())
	}

	opts := scanner.ScanOptions{ThreadCount: *threads}
	var scanned, matched int

	err = filepath.WalkDir(scanPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return nil
		}
		if d.IsDir() {
			return nil
		}

		scanned++

		var matches scanner.MatchRules
		if err := ctx.ScanFile(path, opts, &matches); err != nil {
			fmt.Fprintf(os.Stderr, "error scanning %s: %v\n", path, err)
			return nil
		}

		for _, m := range matches {
			if !m.Matched() {
				continue
			}
			matched++
			fmt.Printf("%s: %s\n", path, m.Rule)
		}

		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error walking path: %v\n", err)
		os.Exit(1)
	}

	if !*quiet {
		fmt.Fprintf(os.Stderr, "scanned %d files, %d matches\n", scanned, matched)
	}
}
