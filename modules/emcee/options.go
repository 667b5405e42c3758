package emcee

import (
	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
)

type options struct {
	fitParameters    []string
	initFrom         []string
	priors           []string
	nwalkers         int
	niters           int
	burnin           int
	thin             int
	seed             int
	continueFromIter int
}

type optionReader struct {
	set *paramstore.Set
	err error
}

func (r *optionReader) get(qualifier string) *param.Parameter {
	if r.err != nil {
		return nil
	}
	p, err := r.set.Get(paramstore.Query{Tags: param.Tags{Qualifier: qualifier}, IncludeHidden: true})
	if err != nil {
		r.err = err
		return nil
	}
	return p
}

func (r *optionReader) int(qualifier string) int {
	p := r.get(qualifier)
	if p == nil {
		return 0
	}
	n, err := p.Int()
	if err != nil {
		r.err = err
	}
	return n
}

func (r *optionReader) strings(qualifier string) []string {
	p := r.get(qualifier)
	if p == nil {
		return nil
	}
	v, err := p.Strings()
	if err != nil {
		r.err = err
	}
	return v
}

func readOptions(set *paramstore.Set) (*options, error) {
	r := &optionReader{set: set}
	o := &options{
		fitParameters:    r.strings("fit_parameters"),
		initFrom:         r.strings("init_from"),
		priors:           r.strings("priors"),
		nwalkers:         r.int("nwalkers"),
		niters:           r.int("niters"),
		burnin:           r.int("burnin"),
		thin:             r.int("thin"),
		seed:             r.int("seed"),
		continueFromIter: r.int("continue_from_iter"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return o, nil
}
