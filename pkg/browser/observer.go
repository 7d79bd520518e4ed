package browser

import (
	"context"
	"sync"
	"time"
)

// MaxObservedElements caps the element list carried in an Observation.
const MaxObservedElements = 30

// Observation is a point-in-time summary of the active page. Built once
// and never mutated after Observe returns.
type Observation struct {
	URL         string
	Title       string
	ReadyState  string
	Elements    []ElementDescriptor
	Diagnostics map[string]string
	TakenAt     time.Time
}

// pageReader is the dispatcher subset the observer needs.
type pageReader interface {
	GetPageInfo(ctx context.Context) (*PageInfo, error)
	GetInteractiveElements(ctx context.Context) ([]ElementDescriptor, error)
}

// Observer collects page state before planning and after acting.
type Observer struct {
	reader pageReader
}

// NewObserver creates an observer over the given dispatcher.
func NewObserver(reader pageReader) *Observer {
	return &Observer{reader: reader}
}

// Observe issues getPageInfo and getInteractiveElements concurrently and
// merges the results. Sub-call failures are recorded in Diagnostics; the
// call itself never fails, so the planner always has something to work
// with even on a half-broken page.
func (o *Observer) Observe(ctx context.Context) *Observation {
	obs := &Observation{
		Diagnostics: map[string]string{},
		TakenAt:     time.Now().UTC(),
	}

	var (
		wg       sync.WaitGroup
		info     *PageInfo
		infoErr  error
		elements []ElementDescriptor
		elemErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		info, infoErr = o.reader.GetPageInfo(ctx)
	}()
	go func() {
		defer wg.Done()
		elements, elemErr = o.reader.GetInteractiveElements(ctx)
	}()
	wg.Wait()

	if infoErr != nil {
		obs.Diagnostics["page_info"] = infoErr.Error()
	} else if info != nil {
		obs.URL = info.URL
		obs.Title = info.Title
		obs.ReadyState = info.ReadyState
		for k, v := range info.Diagnostics {
			obs.Diagnostics[k] = v
		}
	}

	if elemErr != nil {
		obs.Diagnostics["interactive_elements"] = elemErr.Error()
	} else {
		if len(elements) > MaxObservedElements {
			elements = elements[:MaxObservedElements]
		}
		obs.Elements = elements
	}

	return obs
}

// Blank reports whether the page looks like a fresh tab with nothing
// loaded, which is the deterministic cue to navigate first.
func (obs *Observation) Blank() bool {
	return (obs.URL == "" || obs.URL == "about:blank") && len(obs.Elements) == 0
}
