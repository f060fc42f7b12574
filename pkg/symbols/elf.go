package symbols

import (
	"bufio"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// mapping is one executable, file-backed region of a maps listing.
type mapping struct {
	Start  uint64
	End    uint64
	Offset uint64
	Path   string
}

// parseMaps returns the executable file-backed mappings of a
// /proc/<pid>/maps listing.
func parseMaps(r io.Reader) ([]mapping, error) {
	var out []mapping
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 {
			continue
		}
		if !strings.Contains(fields[1], "x") || !strings.HasPrefix(fields[5], "/") {
			continue
		}
		bounds := strings.SplitN(fields[0], "-", 2)
		if len(bounds) != 2 {
			continue
		}
		start, err1 := strconv.ParseUint(bounds[0], 16, 64)
		end, err2 := strconv.ParseUint(bounds[1], 16, 64)
		off, err3 := strconv.ParseUint(fields[2], 16, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		out = append(out, mapping{Start: start, End: end, Offset: off, Path: fields[5]})
	}
	return out, scanner.Err()
}

// symtab is a sorted function symbol table of one ELF file.
type symtab struct {
	dynamic bool // ET_DYN: addresses are relative to the load bias
	loads   []elf.ProgHeader
	syms    []elf.Symbol
}

func loadSymtab(path string) (*symtab, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st := &symtab{dynamic: f.Type == elf.ET_DYN}
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD {
			st.loads = append(st.loads, p.ProgHeader)
		}
	}

	syms, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, err
	}
	dyn, err := f.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, err
	}
	st.syms = make([]elf.Symbol, 0, len(syms)+len(dyn))
	for _, table := range [][]elf.Symbol{syms, dyn} {
		for _, s := range table {
			if elf.ST_TYPE(s.Info) == elf.STT_FUNC && s.Value != 0 {
				st.syms = append(st.syms, s)
			}
		}
	}
	sort.Slice(st.syms, func(i, j int) bool {
		return st.syms[i].Value < st.syms[j].Value
	})
	return st, nil
}

// vaddr converts a file offset into the file's virtual address space.
func (st *symtab) vaddr(fileOff uint64) (uint64, bool) {
	for _, p := range st.loads {
		if fileOff >= p.Off && fileOff < p.Off+p.Filesz {
			return fileOff - p.Off + p.Vaddr, true
		}
	}
	return 0, false
}

// lookup finds the function symbol covering v.
func (st *symtab) lookup(v uint64) (Symbol, bool) {
	i := sort.Search(len(st.syms), func(i int) bool {
		return st.syms[i].Value > v
	}) - 1
	if i < 0 {
		return Symbol{}, false
	}
	s := st.syms[i]
	if s.Size != 0 && v >= s.Value+s.Size {
		return Symbol{}, false
	}
	return Symbol{Name: s.Name, Offset: uintptr(v - s.Value)}, true
}

// ELF resolves addresses against the symbol tables of the files mapped into
// a process.
type ELF struct {
	mapsPath string

	mu       sync.Mutex
	mappings []mapping
	tables   *lru.Cache[string, *symtab]
}

// NewELF creates a symbolizer reading the given maps file, usually
// /proc/self/maps.
func NewELF(mapsPath string) (*ELF, error) {
	tables, err := lru.New[string, *symtab](64)
	if err != nil {
		return nil, err
	}
	return &ELF{mapsPath: mapsPath, tables: tables}, nil
}

// Symbolize implements Symbolizer. The maps listing is reread once when an
// address falls outside every known mapping, to pick up newly loaded
// libraries.
func (e *ELF) Symbolize(addr uintptr) (Symbol, bool) {
	e.mu.Lock()
	m, ok := e.find(uint64(addr))
	if !ok {
		if err := e.refresh(); err == nil {
			m, ok = e.find(uint64(addr))
		}
	}
	e.mu.Unlock()
	if !ok {
		return Symbol{}, false
	}

	st, err := e.table(m.Path)
	if err != nil {
		return Symbol{}, false
	}

	v := uint64(addr)
	if st.dynamic {
		v, ok = st.vaddr(uint64(addr) - m.Start + m.Offset)
		if !ok {
			return Symbol{}, false
		}
	}
	return st.lookup(v)
}

func (e *ELF) find(addr uint64) (mapping, bool) {
	for _, m := range e.mappings {
		if addr >= m.Start && addr < m.End {
			return m, true
		}
	}
	return mapping{}, false
}

func (e *ELF) refresh() error {
	file, err := os.Open(e.mapsPath)
	if err != nil {
		return err
	}
	defer file.Close()

	mappings, err := parseMaps(file)
	if err != nil {
		return fmt.Errorf("parse %s: %w", e.mapsPath, err)
	}
	e.mappings = mappings
	return nil
}

func (e *ELF) table(path string) (*symtab, error) {
	if st, ok := e.tables.Get(path); ok {
		return st, nil
	}
	st, err := loadSymtab(path)
	if err != nil {
		return nil, err
	}
	e.tables.Add(path, st)
	return st, nil
}
