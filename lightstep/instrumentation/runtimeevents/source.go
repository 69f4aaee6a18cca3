// Copyright Lightstep Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runtimeevents

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Handler receives one event, synchronously, on the producer's
// goroutine.
type Handler func(Event)

// Source is a subscription facility for runtime events.
type Source interface {
	// Subscribe delivers matching events to h until the returned
	// function is called.
	Subscribe(sub Subscription, h Handler) (unsubscribe func() error, err error)
}

// ErrFeedClosed is returned by Subscribe after Close.
var ErrFeedClosed = errors.New("runtime event feed is closed")

type feedSubscriber struct {
	sub Subscription
	h   Handler
}

// Feed is an in-process Source.  Publish may be called from any
// number of goroutines; handlers run on the publishing goroutine.
// Subscribing and unsubscribing are copy-on-write so that Publish
// never takes a lock.
type Feed struct {
	lock        sync.Mutex
	closed      bool
	subscribers atomic.Pointer[[]*feedSubscriber]
}

var _ Source = (*Feed)(nil)

// NewFeed returns a Feed with no subscribers.
func NewFeed() *Feed {
	f := &Feed{}
	f.subscribers.Store(&[]*feedSubscriber{})
	return f
}

// Subscribe implements Source.
func (f *Feed) Subscribe(sub Subscription, h Handler) (func() error, error) {
	if h == nil {
		return nil, errors.New("nil event handler")
	}
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.closed {
		return nil, ErrFeedClosed
	}
	s := &feedSubscriber{sub: sub, h: h}
	old := *f.subscribers.Load()
	next := make([]*feedSubscriber, 0, len(old)+1)
	next = append(next, old...)
	next = append(next, s)
	f.subscribers.Store(&next)

	var once sync.Once
	return func() error {
		once.Do(func() { f.remove(s) })
		return nil
	}, nil
}

func (f *Feed) remove(s *feedSubscriber) {
	f.lock.Lock()
	defer f.lock.Unlock()

	old := *f.subscribers.Load()
	next := make([]*feedSubscriber, 0, len(old))
	for _, o := range old {
		if o != s {
			next = append(next, o)
		}
	}
	f.subscribers.Store(&next)
}

// Publish delivers e to every matching subscriber.
func (f *Feed) Publish(e Event) {
	for _, s := range *f.subscribers.Load() {
		if s.sub.Matches(e) {
			s.h(e)
		}
	}
}

// Subscribers returns the current number of subscriptions.
func (f *Feed) Subscribers() int {
	return len(*f.subscribers.Load())
}

// Close drops all subscribers and rejects new ones.
func (f *Feed) Close() error {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.closed = true
	f.subscribers.Store(&[]*feedSubscriber{})
	return nil
}
