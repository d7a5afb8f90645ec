package datasource

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/beetlebugorg/mitab/pkg/feature"
)

// OpenOptions controls OpenAll.
type OpenOptions struct {
	// Workers is the number of concurrent openers. If 0, defaults to
	// runtime.NumCPU().
	Workers int

	// Progress is called after each source is opened, successfully or not,
	// with the number processed so far.
	Progress func(opened, total int)
}

// OpenAll opens every named source through the registry using a pool of
// workers. The result is in the order of names; a name listed twice is
// opened twice and must be released twice.
//
// If any source fails to open, the ones that did open are released and the
// errors are returned joined.
//
// Example:
//
//	sources, err := reg.OpenAll([]string{"cities.tab", "roads.tab"}, datasource.OpenOptions{})
//	if err != nil {
//	    return err
//	}
//	defer reg.ReleaseAll(sources)
func (r *Registry) OpenAll(names []string, opts OpenOptions) ([]feature.DataSource, error) {
	if len(names) == 0 {
		return nil, nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(names) {
		workers = len(names)
	}

	type openResult struct {
		index int
		ds    feature.DataSource
		err   error
	}

	jobs := make(chan int, len(names))
	results := make(chan openResult, len(names))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				ds, err := r.Open(names[index])
				results <- openResult{index: index, ds: ds, err: err}
			}
		}()
	}

	for i := range names {
		jobs <- i
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	sources := make([]feature.DataSource, len(names))
	var errs []error
	opened := 0
	for res := range results {
		opened++
		if opts.Progress != nil {
			opts.Progress(opened, len(names))
		}
		if res.err != nil {
			errs = append(errs, res.err)
			continue
		}
		sources[res.index] = res.ds
	}

	if len(errs) > 0 {
		r.ReleaseAll(sources)
		return nil, errors.Join(errs...)
	}
	return sources, nil
}

// ReleaseAll releases every non-nil source in sources.
func (r *Registry) ReleaseAll(sources []feature.DataSource) error {
	var errs []error
	for _, ds := range sources {
		if ds == nil {
			continue
		}
		if err := r.Release(ds); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", ds.Name(), err))
		}
	}
	return errors.Join(errs...)
}
