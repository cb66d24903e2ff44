// bindump is a CLI tool for extracting information from ar archives, COFF
// objects and PE images.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/jtang613/gobinview/pkg/binview"
	"github.com/jtang613/gobinview/pkg/binview/pe"
)

func main() {
	// Flags
	showInfo := flag.Bool("info", false, "Show file information")
	showSections := flag.Bool("sections", false, "List sections")
	showSymbols := flag.Bool("symbols", false, "List COFF symbols")
	showMembers := flag.Bool("members", false, "List archive members")
	showArchiveSymbols := flag.Bool("archive-symbols", false, "List the archive symbol index")
	showDirectories := flag.Bool("directories", false, "List PE data directories")
	showFunctions := flag.Bool("functions", false, "List exception directory entries")
	showResources := flag.Bool("resources", false, "List resources")
	showImports := flag.Bool("imports", false, "List imported and exported functions")
	showDebug := flag.Bool("debug", false, "Show the debug directory")
	showAll := flag.Bool("all", false, "Show all information")
	prettyPrint := flag.Bool("pretty", false, "Pretty-print JSON output")
	mapped := flag.Bool("mapped", false, "Treat PE input as a memory dump of a loaded image")
	unwindRVA := flag.String("unwind", "", "Show unwind info for the function containing an RVA")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <file>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -info file.dll\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -members -archive-symbols -pretty file.lib\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -all file.obj\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -unwind 0x1040 file.exe\n", os.Args[0])
	}

	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	layout := pe.LayoutFile
	if *mapped {
		layout = pe.LayoutMapped
	}

	f, err := binview.Open(flag.Arg(0), layout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
	defer f.Close()

	// Helper for JSON output
	outputJSON := func(v interface{}) {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetEscapeHTML(false)
		if *prettyPrint {
			encoder.SetIndent("", "  ")
		}
		if err := encoder.Encode(v); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
			os.Exit(1)
		}
	}

	// Handle unwind lookup
	if *unwindRVA != "" {
		rva, err := strconv.ParseUint(*unwindRVA, 0, 32)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid RVA %q: %v\n", *unwindRVA, err)
			os.Exit(1)
		}
		u, err := f.Unwind(uint32(rva))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading unwind info: %v\n", err)
			os.Exit(1)
		}
		outputJSON(u)
		return
	}

	// Default to showing info if no flags specified
	if !*showInfo && !*showSections && !*showSymbols && !*showMembers && !*showArchiveSymbols &&
		!*showDirectories && !*showFunctions && !*showResources && !*showImports && !*showDebug && !*showAll {
		*showInfo = true
	}

	isImage := f.Kind() == binview.KindImage
	isArchive := f.Kind() == binview.KindArchive

	// Build output
	result := make(map[string]interface{})
	errs := make(map[string]string)
	add := func(key string, v interface{}, err error) {
		if err != nil {
			errs[key] = err.Error()
			return
		}
		result[key] = v
	}

	if *showInfo || *showAll {
		result["info"] = f.Info()
	}

	if (*showSections || *showAll) && !isArchive {
		result["sections"] = f.Sections()
	}

	if (*showSymbols || *showAll) && !isArchive {
		result["symbols"] = f.Symbols()
	}

	if (*showMembers || *showAll) && isArchive {
		members, err := f.Members()
		add("members", members, err)
	}

	if (*showArchiveSymbols || *showAll) && isArchive {
		result["archive_symbols"] = f.ArchiveSymbols()
	}

	if (*showDirectories || *showAll) && isImage {
		dirs, err := f.Directories()
		add("directories", dirs, err)
	}

	if (*showFunctions || *showAll) && isImage {
		fns, err := f.Functions()
		add("functions", fns, err)
	}

	if (*showResources || *showAll) && isImage {
		res, err := f.Resources()
		add("resources", res, err)
	}

	if (*showImports || *showAll) && isImage {
		imports, err := f.Imports()
		add("imports", imports, err)
		exports, err := f.Exports()
		add("exports", exports, err)
	}

	if (*showDebug || *showAll) && isImage {
		dbg, err := f.Debug()
		add("debug", dbg, err)
	}

	if len(errs) > 0 {
		result["errors"] = errs
	}

	outputJSON(result)
}
