package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/hera/internal/ir"
)

// LoadMode controls how errors are handled during bundle loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Load error codes (E001-E099).
const (
	ErrCodeGeneric     = "E001"
	ErrCodeScanError   = "E002"
	ErrCodeNoFiles     = "E003"
	ErrCodeLoadFailed  = "E004"
	ErrCodeNotFound    = "E005"
	ErrCodeBuildFailed = "E006"
	ErrCodeNoBundles   = "E007"
)

// LoadResult contains the bundles compiled from a directory.
type LoadResult struct {
	Bundles   []ir.PolicyBundle
	FileCount int
}

// LoadError represents an error that occurred during bundle loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadBundles loads, compiles and validates every bundle in the CUE
// package rooted at dir. Bundles are returned sorted by (id, version).
func LoadBundles(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("policy directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing policy directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	bundles, errs := compileValue(value, mode)
	return &LoadResult{Bundles: bundles, FileCount: len(files)}, errs
}

// CompileSource compiles bundles from a single CUE document. filename is
// used only for error positions.
func CompileSource(filename string, src []byte) ([]ir.PolicyBundle, []error) {
	value := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, []error{formatCUEError(err)}
	}
	return compileValue(value, LoadModeCollectAll)
}

func compileValue(value cue.Value, mode LoadMode) ([]ir.PolicyBundle, []error) {
	var (
		bundles []ir.PolicyBundle
		errs    []error
	)

	root := value.LookupPath(cue.ParsePath("bundle"))
	if !root.Exists() {
		return nil, []error{&LoadError{Code: ErrCodeNoBundles, Message: "no bundle definitions found"}}
	}
	iter, err := root.Fields()
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating bundles: %v", err)}}
	}

	for iter.Next() {
		id := iter.Selector().String()
		if unq, err := strconv.Unquote(id); err == nil {
			id = unq
		}
		compiled, err := CompileBundle(id, iter.Value())
		if err != nil {
			errs = append(errs, convertCompileError(err, "bundle."+id))
			if mode == LoadModeFailFast {
				return nil, errs
			}
			continue
		}
		bundles = append(bundles, compiled...)
	}

	for _, verr := range ValidateSet(bundles) {
		errs = append(errs, verr)
		if mode == LoadModeFailFast {
			return nil, errs
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	sort.SliceStable(bundles, func(i, j int) bool {
		if bundles[i].ID != bundles[j].ID {
			return bundles[i].ID < bundles[j].ID
		}
		return bundles[i].Version < bundles[j].Version
	})
	return bundles, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func convertCompileError(err error, context string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeGeneric,
			Message: fmt.Sprintf("%s.%s: %s", context, compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("%s: %v", context, err)}
}
