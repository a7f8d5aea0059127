package rpcjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/curator/internal/application"
	"github.com/atvirokodosprendimai/curator/internal/domain"
	"github.com/atvirokodosprendimai/curator/internal/logger"
	"github.com/ohler55/ojg/oj"
)

type Server struct {
	service  *application.CurationService
	log      *logger.Logger
	listener net.Listener
	path     string
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

type response struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// nodeParams is shared by every node.* and record.* method. Only the members
// a method reads need to be set.
type nodeParams struct {
	Kind       string          `json:"kind"`
	UUID       string          `json:"uuid"`
	Body       *domain.Node    `json:"body"`
	LastUpdate time.Time       `json:"last_update"`
	Before     *time.Time      `json:"before"`
	Name       string          `json:"name"`
	Document   json.RawMessage `json:"document"`
	Category   string          `json:"category"`
	Users      []string        `json:"users"`
	Group      string          `json:"group"`
}

func Start(path string, service *application.CurationService, log *logger.Logger) (*Server, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("rpc socket path is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = ln.Close()
		_ = os.Remove(path)
		return nil, err
	}

	s := &Server{service: service, log: log.With("adapter", "rpcjson"), listener: ln, path: path}
	go s.serve()
	return s, nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Close() error {
	err := s.listener.Close()
	_ = os.Remove(s.path)
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)

	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			_ = enc.Encode(response{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "parse error"}, ID: nil})
			return
		}

		resp := s.dispatch(context.Background(), req)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req request) response {
	if req.JSONRPC != "2.0" || strings.TrimSpace(req.Method) == "" {
		return response{JSONRPC: "2.0", Error: &rpcError{Code: -32600, Message: "invalid request"}, ID: req.ID}
	}
	if req.Method == "auth.login" {
		return s.handleAuthLogin(ctx, req)
	}

	u, actor, rpcResp, ok := s.authz(ctx, req)
	if !ok {
		return rpcResp
	}
	var p nodeParams
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}

	var (
		result any
		err    error
	)
	switch req.Method {
	case "auth.whoami":
		result = map[string]any{"id": u.ID, "email": u.Email, "super_user": u.SuperUser, "acting_as": actor.ActingAs}
	case "audit.list":
		result, err = s.service.ListAuditLogs(ctx, actor, 200)
	case "node.create":
		result, err = withKind(p, func(kind domain.Kind) (any, error) {
			id, err := s.service.Create(ctx, actor, kind, p.Body)
			return map[string]any{"uuid": id}, err
		})
	case "node.draft":
		result, err = withKind(p, func(kind domain.Kind) (any, error) {
			return s.service.Draft(ctx, actor, kind, p.UUID)
		})
	case "node.update":
		result, err = withKind(p, func(kind domain.Kind) (any, error) {
			return map[string]any{"ok": true}, s.service.Update(ctx, actor, kind, p.UUID, p.Body)
		})
	case "node.delete":
		result, err = withKind(p, func(kind domain.Kind) (any, error) {
			return map[string]any{"ok": true}, s.service.DeleteDraft(ctx, actor, kind, p.UUID)
		})
	case "node.last_update":
		result, err = withKind(p, func(kind domain.Kind) (any, error) {
			t, err := s.service.LastUpdate(ctx, actor, kind, p.UUID)
			return t.UTC().Format(time.RFC3339Nano), err
		})
	case "node.persist":
		result, err = withKind(p, func(kind domain.Kind) (any, error) {
			id, err := s.service.Persist(ctx, actor, kind, p.UUID, p.LastUpdate)
			return map[string]any{"id": id}, err
		})
	case "node.latest_persisted":
		result, err = withKind(p, func(kind domain.Kind) (any, error) {
			return s.service.LatestPersisted(ctx, actor, kind, p.UUID, p.Before)
		})
	case "node.draft_existing":
		result, err = withKind(p, func(kind domain.Kind) (any, error) {
			return s.service.DraftExisting(ctx, actor, kind, p.UUID)
		})
	case "node.duplicate":
		result, err = withKind(p, func(kind domain.Kind) (any, error) {
			id, err := s.service.Duplicate(ctx, actor, kind, p.UUID)
			return map[string]any{"uuid": id}, err
		})
	case "node.import":
		result, err = withKind(p, func(kind domain.Kind) (any, error) {
			doc, err := oj.Parse(p.Document)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrInput, err)
			}
			id, err := s.service.Import(ctx, actor, kind, doc)
			return map[string]any{"uuid": id}, err
		})
	case "record.publish":
		id, perr := s.service.Publish(ctx, actor, p.UUID, p.LastUpdate, p.Name)
		result, err = map[string]any{"id": id, "name": p.Name}, perr
	case "record.published":
		result, err = s.service.Published(ctx, actor, p.UUID, p.Name)
	case "permission.get":
		users, gerr := s.service.Permissions(ctx, actor, p.UUID, p.Category)
		result, err = map[string]any{"users": users}, gerr
	case "permission.update":
		if p.Users == nil {
			p.Users = []string{}
		}
		users, uerr := s.service.UpdatePermissions(ctx, actor, p.UUID, p.Category, p.Users)
		result, err = map[string]any{"users": users}, uerr
	case "group.list":
		members, gerr := s.service.Group(ctx, actor, p.Group)
		result, err = map[string]any{"members": members}, gerr
	default:
		return response{JSONRPC: "2.0", Error: &rpcError{Code: -32601, Message: "method not found"}, ID: req.ID}
	}
	if err != nil {
		return s.appError(req.ID, err)
	}
	return response{JSONRPC: "2.0", Result: result, ID: req.ID}
}

func withKind(p nodeParams, fn func(domain.Kind) (any, error)) (any, error) {
	kind, ok := domain.ParseKind(p.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: unknown node type %q", domain.ErrNotFound, p.Kind)
	}
	return fn(kind)
}

func (s *Server) handleAuthLogin(ctx context.Context, req request) response {
	var p struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		TokenName string `json:"token_name"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	u, token, err := s.service.LoginWithAPIToken(ctx, p.Email, p.Password, p.TokenName, nil)
	if err != nil {
		return response{JSONRPC: "2.0", Error: &rpcError{Code: 40100, Message: "invalid credentials"}, ID: req.ID}
	}
	return response{JSONRPC: "2.0", Result: map[string]any{"user_id": u.ID, "email": u.Email, "token": token}, ID: req.ID}
}

func (s *Server) authz(ctx context.Context, req request) (domain.User, domain.Actor, response, bool) {
	var p struct {
		Token string `json:"token"`
		ActAs string `json:"act_as"`
	}
	if !decodeParams(req.Params, &p) {
		return domain.User{}, domain.Actor{}, invalidParams(req.ID), false
	}
	u, err := s.service.AuthenticateBearerToken(ctx, p.Token)
	if err != nil {
		return domain.User{}, domain.Actor{}, response{JSONRPC: "2.0", Error: &rpcError{Code: 40100, Message: "unauthorized"}, ID: req.ID}, false
	}
	actor, err := s.service.ActorFor(ctx, u, p.ActAs)
	if err != nil {
		return domain.User{}, domain.Actor{}, s.appError(req.ID, err), false
	}
	return u, actor, response{}, true
}

func decodeParams(raw json.RawMessage, out any) bool {
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

func invalidParams(id any) response {
	return response{JSONRPC: "2.0", Error: &rpcError{Code: -32602, Message: "invalid params"}, ID: id}
}

// appError encodes the HTTP status of err as code*100, so 404 becomes 40400.
func (s *Server) appError(id any, err error) response {
	status := domain.StatusCode(err)
	if status >= 500 {
		s.log.Error("rpc call failed", "error", err)
		return response{JSONRPC: "2.0", Error: &rpcError{Code: 50000, Message: "internal error"}, ID: id}
	}
	return response{JSONRPC: "2.0", Error: &rpcError{Code: status * 100, Message: err.Error()}, ID: id}
}
