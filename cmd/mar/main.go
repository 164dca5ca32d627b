// Marionette CLI - the main entry point for inspecting and running
// compiled rig programs
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"

	"github.com/chazu/marionette/manifest"
	"github.com/chazu/marionette/store"
	"github.com/chazu/marionette/vm"
	"github.com/chazu/marionette/vm/wire"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	verbosity := flag.Int("v", 0, "Log verbosity (0-2)")
	disasm := flag.Bool("disasm", false, "Print a disassembly listing")
	entries := flag.Bool("entries", false, "List the program's entry points")
	run := flag.Bool("run", false, "Execute the program")
	entry := flag.String("entry", "", "Entry point to execute (default: first instruction)")
	put := flag.String("put", "", "Archive the program into the store under this name")
	list := flag.Bool("list", false, "List programs in the store")
	fromStore := flag.String("from-store", "", "Load the program from the store by name or hash")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: mar [options] [archive.mar]\n\n")
		fmt.Fprintf(os.Stderr, "Inspects, stores, and runs compiled Marionette programs.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  mar -disasm rig.mar            # Print disassembly\n")
		fmt.Fprintf(os.Stderr, "  mar -run rig.mar -entry Update # Run the Update entry\n")
		fmt.Fprintf(os.Stderr, "  mar -put rig rig.mar           # Store the archive as \"rig\"\n")
		fmt.Fprintf(os.Stderr, "  mar -list                      # List stored programs\n")
		fmt.Fprintf(os.Stderr, "  mar -run -from-store rig       # Run a stored program\n")
	}
	flag.Parse()

	commonlog.Configure(*verbosity, nil)

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if m == nil {
		m = manifest.Default()
	}

	if *list {
		if err := listPrograms(m); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	p, err := loadProgram(m, *fromStore, flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch {
	case *put != "":
		if err := putProgram(m, *put, p); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case *disasm:
		fmt.Print(p.ByteCode.DisassembleWithName(*fromStore))
	case *entries:
		for _, name := range p.ByteCode.EntryNames() {
			fmt.Println(name)
		}
	case *run:
		if err := runProgram(m, p, *entry); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
}

// loadProgram reads an archive from the store or from a file path.
func loadProgram(m *manifest.Manifest, storeRef string, args []string) (*vm.Program, error) {
	if storeRef != "" {
		s, err := store.Open(m.StorePath())
		if err != nil {
			return nil, err
		}
		defer s.Close()
		if p, err := s.GetByName(storeRef); err == nil {
			return p, nil
		}
		return s.Get(storeRef)
	}

	if len(args) != 1 {
		return nil, fmt.Errorf("expected exactly one archive path")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, err
	}
	return wire.Decode(data)
}

func putProgram(m *manifest.Manifest, name string, p *vm.Program) error {
	s, err := store.Open(m.StorePath())
	if err != nil {
		return err
	}
	defer s.Close()
	hash, err := s.Put(name, p)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", hash, name)
	return nil
}

func listPrograms(m *manifest.Manifest) error {
	s, err := store.Open(m.StorePath())
	if err != nil {
		return err
	}
	defer s.Close()
	entries, err := s.List()
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s  %8d  %s  %s\n",
			e.Hash[:12], e.Size, e.CreatedAt.Format("2006-01-02 15:04"), e.Name)
	}
	return nil
}

func runProgram(m *manifest.Manifest, p *vm.Program, entry string) error {
	inst, err := vm.NewVM(p, m.VMConfig())
	if err != nil {
		return err
	}
	log := commonlog.GetLogger("mar")
	inst.OnExecutionReachedExit(func(entry string) {
		log.Infof("run finished (entry %q)", entry)
	})
	if err := inst.Execute(nil, nil, entry); err != nil {
		return err
	}

	// Print the final work-region values so a run is observable.
	work := inst.WorkMemory()
	for i := 0; i < work.NumSlots(); i++ {
		v, err := inst.WorkValue(i)
		if err != nil {
			return err
		}
		fmt.Printf("%s = %s\n", work.SlotName(i), v.String())
	}
	return nil
}
