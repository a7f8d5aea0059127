package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

// invoke runs one operation over the configured transport: rpc method with
// params over the unix socket, or the equivalent HTTP route.
func invoke(ctx context.Context, cfg cliConfig, method string, params map[string]any, httpMethod, path string, body any, out any) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg).call(ctx, method, params, out)
	}
	return newAPIClient(cfg).request(ctx, httpMethod, path, body, out)
}

func nodePath(kind, id string, rest ...string) string {
	p := "/" + url.PathEscape(kind)
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	for _, r := range rest {
		p += "/" + url.PathEscape(r)
	}
	return p
}

func doLogin(ctx context.Context, cfg cliConfig, email, password, tokenName string, out any) error {
	in := map[string]any{"email": email, "password": password, "token_name": tokenName}
	cfg.Token = ""
	return invoke(ctx, cfg, "auth.login", in, http.MethodPost, "/api/auth/login", in, out)
}

func doWhoAmI(ctx context.Context, cfg cliConfig, out any) error {
	return invoke(ctx, cfg, "auth.whoami", nil, http.MethodGet, "/api/auth/whoami", nil, out)
}

func doCreate(ctx context.Context, cfg cliConfig, kind string, body json.RawMessage, out any) error {
	return invoke(ctx, cfg, "node.create", map[string]any{"kind": kind, "body": body},
		http.MethodPost, nodePath(kind, ""), body, out)
}

func doDraft(ctx context.Context, cfg cliConfig, kind, id string, out any) error {
	return invoke(ctx, cfg, "node.draft", map[string]any{"kind": kind, "uuid": id},
		http.MethodGet, nodePath(kind, id, "draft"), nil, out)
}

func doUpdate(ctx context.Context, cfg cliConfig, kind, id string, body json.RawMessage) error {
	return invoke(ctx, cfg, "node.update", map[string]any{"kind": kind, "uuid": id, "body": body},
		http.MethodPut, nodePath(kind, id), body, nil)
}

func doDeleteDraft(ctx context.Context, cfg cliConfig, kind, id string) error {
	return invoke(ctx, cfg, "node.delete", map[string]any{"kind": kind, "uuid": id},
		http.MethodDelete, nodePath(kind, id, "draft"), nil, nil)
}

func doLastUpdate(ctx context.Context, cfg cliConfig, kind, id string) (string, error) {
	var out string
	err := invoke(ctx, cfg, "node.last_update", map[string]any{"kind": kind, "uuid": id},
		http.MethodGet, nodePath(kind, id, "last_update"), nil, &out)
	return out, err
}

func doPersist(ctx context.Context, cfg cliConfig, kind, id, lastUpdate string, out any) error {
	return invoke(ctx, cfg, "node.persist", map[string]any{"kind": kind, "uuid": id, "last_update": lastUpdate},
		http.MethodPost, nodePath(kind, id, "persist"), map[string]any{"last_update": lastUpdate}, out)
}

func doLatestPersisted(ctx context.Context, cfg cliConfig, kind, id, before string, out any) error {
	params := map[string]any{"kind": kind, "uuid": id}
	path := nodePath(kind, id, "latest_persisted")
	if before != "" {
		params["before"] = before
		path = nodePath(kind, id, before)
	}
	return invoke(ctx, cfg, "node.latest_persisted", params, http.MethodGet, path, nil, out)
}

func doDraftExisting(ctx context.Context, cfg cliConfig, kind, id string) (bool, error) {
	var out bool
	err := invoke(ctx, cfg, "node.draft_existing", map[string]any{"kind": kind, "uuid": id},
		http.MethodGet, nodePath(kind, id, "draft_existing"), nil, &out)
	return out, err
}

func doDuplicate(ctx context.Context, cfg cliConfig, kind, id string, out any) error {
	return invoke(ctx, cfg, "node.duplicate", map[string]any{"kind": kind, "uuid": id},
		http.MethodPost, nodePath(kind, id, "duplicate"), nil, out)
}

func doImport(ctx context.Context, cfg cliConfig, kind string, doc json.RawMessage, out any) error {
	return invoke(ctx, cfg, "node.import", map[string]any{"kind": kind, "document": doc},
		http.MethodPost, nodePath(kind, "import"), doc, out)
}

func doPublish(ctx context.Context, cfg cliConfig, id, lastUpdate, name string, out any) error {
	in := map[string]any{"last_update": lastUpdate, "name": name}
	return invoke(ctx, cfg, "record.publish", map[string]any{"uuid": id, "last_update": lastUpdate, "name": name},
		http.MethodPost, nodePath("record", id, "publish"), in, out)
}

func doPublished(ctx context.Context, cfg cliConfig, id, name string, out any) error {
	return invoke(ctx, cfg, "record.published", map[string]any{"uuid": id, "name": name},
		http.MethodGet, nodePath("record", id, "published", name), nil, out)
}

func doPermissionGet(ctx context.Context, cfg cliConfig, id, category string, out any) error {
	return invoke(ctx, cfg, "permission.get", map[string]any{"uuid": id, "category": category},
		http.MethodGet, nodePath("permission", id, category), nil, out)
}

func doPermissionSet(ctx context.Context, cfg cliConfig, id, category string, users []string, out any) error {
	return invoke(ctx, cfg, "permission.update", map[string]any{"uuid": id, "category": category, "users": users},
		http.MethodPut, nodePath("permission", id, category), map[string]any{"users": users}, out)
}

func doGroup(ctx context.Context, cfg cliConfig, group string, out any) error {
	return invoke(ctx, cfg, "group.list", map[string]any{"group": group},
		http.MethodGet, nodePath("group", group), nil, out)
}

func doAuditList(ctx context.Context, cfg cliConfig, out any) error {
	return invoke(ctx, cfg, "audit.list", nil, http.MethodGet, "/api/audit/logs", nil, out)
}

func uintToString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
