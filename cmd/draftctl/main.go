// draftctl inspects and manages the durable draft cache.
//
// Subcommands:
//
//	draftctl list              List cached drafts
//	draftctl show <doc-id>     Print a draft's content
//	draftctl clear <doc-id>    Remove one draft
//	draftctl clear --all       Remove all drafts
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loreleaf/loreleaf/internal/draft"
	"github.com/loreleaf/loreleaf/internal/logging"
)

func main() {
	dir := flag.String("dir", "", "Draft cache directory (default LORELEAF_DRAFT_DIR)")
	flag.Parse()

	logging.InitDefault()
	defer logging.Sync()

	draftDir := *dir
	if draftDir == "" {
		draftDir = os.Getenv("LORELEAF_DRAFT_DIR")
	}
	if draftDir == "" {
		// Same default the sync daemon uses.
		home, _ := os.UserHomeDir()
		draftDir = filepath.Join(home, ".cache", "loreleaf", "drafts")
	}

	store, err := draft.New(draftDir, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	switch args[0] {
	case "list":
		ids := store.List()
		if len(ids) == 0 {
			fmt.Println("no drafts")
			return
		}
		for _, id := range ids {
			content, _ := store.Get(id)
			fmt.Printf("%s\t%d bytes\n", id, len(content))
		}

	case "show":
		if len(args) < 2 {
			usage()
		}
		content, ok := store.Get(args[1])
		if !ok {
			fmt.Fprintf(os.Stderr, "no draft for %s\n", args[1])
			os.Exit(1)
		}
		fmt.Print(content)

	case "clear":
		if len(args) >= 2 && args[1] == "--all" {
			for _, id := range store.List() {
				store.Clear(id)
				fmt.Printf("cleared %s\n", id)
			}
			return
		}
		if len(args) < 2 {
			usage()
		}
		store.Clear(args[1])
		fmt.Printf("cleared %s\n", args[1])

	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: draftctl [-dir DIR] list | show <doc-id> | clear <doc-id>|--all")
	os.Exit(1)
}
