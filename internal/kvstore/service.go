// Package kvstore is the sample key/value contract served by `postal serve`
// when no IDL file is configured.
package kvstore

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/postal/internal/idl"
	"github.com/danmuck/postal/internal/protocol/codec"
	"github.com/danmuck/postal/internal/protocol/schema"
	"github.com/danmuck/postal/internal/protocol/session"
	"github.com/rs/zerolog"
)

//go:embed kv.idl
var Source string

// Unit is the compiled unit name of Source.
const Unit = "Messages"

// Result members of Source.
const (
	ResultUnknownError    int64 = 0
	ResultSuccess         int64 = 1
	ResultCouldNotFindKey int64 = 0x10
	ResultException       int64 = 0x11
)

const maxNotices = 128

// Registry compiles Source.
func Registry() (*schema.Registry, error) {
	def, err := idl.Parse(Source)
	if err != nil {
		return nil, err
	}
	if err := idl.Validate(def); err != nil {
		return nil, err
	}
	return schema.Build(def, Unit)
}

// Service implements every request kind of Source over a Store.
type Service struct {
	store  *Store
	logger zerolog.Logger

	mu      sync.Mutex
	notices []string
}

func NewService(store *Store, logger zerolog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Register installs the handlers on srv and fails if any request kind of
// srv's registry is left without one.
func (s *Service) Register(srv *session.Server) error {
	handlers := map[string]session.Handler{
		"GetStrings":    s.getStrings,
		"SetStrings":    s.setStrings,
		"DeleteStrings": s.deleteStrings,
		"ListKeys":      s.listKeys,
		"Ping":          s.ping,
		"Echo":          s.echo,
		"Notify":        s.notify,
	}
	for kind, h := range handlers {
		if err := srv.Handle(kind, h); err != nil {
			return err
		}
	}
	return srv.CheckHandlers()
}

// Notices returns the most recent Notify texts, oldest first.
func (s *Service) Notices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notices...)
}

func (s *Service) getStrings(_ context.Context, req codec.Values) (codec.Values, error) {
	names, _ := codec.Get[[]string](req, "Names")
	values := make([]string, len(names))
	result := ResultSuccess
	var missing strings.Builder
	for i, name := range names {
		v, ok := s.store.Get(name)
		if !ok {
			result = ResultCouldNotFindKey
			fmt.Fprintf(&missing, "Could not find key: %s\n", name)
			continue
		}
		values[i] = v
	}
	out := codec.Values{"Result": result, "Values": values}
	if missing.Len() > 0 {
		out["Message"] = missing.String()
	}
	s.logger.Debug().Strs("names", names).Int64("result", result).Msg("get strings")
	return out, nil
}

func (s *Service) setStrings(_ context.Context, req codec.Values) (codec.Values, error) {
	pairs, _ := codec.Get[[]codec.Values](req, "KeyValuePairs")
	for i, pair := range pairs {
		key, _ := codec.Get[string](pair, "Key")
		if key == "" {
			return codec.Values{
				"Result":  ResultException,
				"Message": fmt.Sprintf("pair %d has no key", i),
			}, nil
		}
	}
	for _, pair := range pairs {
		key, _ := codec.Get[string](pair, "Key")
		value, _ := codec.Get[string](pair, "Value")
		s.store.Put(key, value)
	}
	s.logger.Debug().Int("pairs", len(pairs)).Msg("set strings")
	return codec.Values{"Result": ResultSuccess}, nil
}

func (s *Service) deleteStrings(_ context.Context, req codec.Values) (codec.Values, error) {
	names, _ := codec.Get[[]string](req, "Names")
	var deleted int64
	for _, name := range names {
		if s.store.Delete(name) {
			deleted++
		}
	}
	result := ResultSuccess
	if deleted < int64(len(names)) {
		result = ResultCouldNotFindKey
	}
	return codec.Values{"Result": result, "Deleted": deleted}, nil
}

func (s *Service) listKeys(_ context.Context, req codec.Values) (codec.Values, error) {
	prefix, _ := codec.Get[string](req, "Prefix")
	return codec.Values{"Result": ResultSuccess, "Keys": s.store.Keys(prefix)}, nil
}

func (s *Service) ping(context.Context, codec.Values) (codec.Values, error) {
	return codec.Values{"Result": ResultSuccess, "UnixNano": time.Now().UnixNano()}, nil
}

func (s *Service) echo(_ context.Context, req codec.Values) (codec.Values, error) {
	data, ok := codec.Get[[]byte](req, "Data")
	if !ok {
		return codec.Values{}, nil
	}
	return codec.Values{"Data": bytes.Clone(data)}, nil
}

func (s *Service) notify(_ context.Context, req codec.Values) (codec.Values, error) {
	text, _ := codec.Get[string](req, "Text")
	s.mu.Lock()
	s.notices = append(s.notices, text)
	if len(s.notices) > maxNotices {
		s.notices = s.notices[len(s.notices)-maxNotices:]
	}
	s.mu.Unlock()
	s.logger.Info().Str("text", text).Msg("notice")
	return nil, nil
}
