package application

import (
	"fmt"
	"sort"
	"strings"

	"github.com/atvirokodosprendimai/curator/internal/domain"
)

func (s *session) permissionLedger(id, category string) (*domain.Ledger, domain.Category, error) {
	c, ok := domain.ParseCategory(category)
	if !ok {
		return nil, "", fmt.Errorf("%w: permission category %q", domain.ErrNotFound, category)
	}
	l, err := s.ledger(id)
	if err != nil {
		return nil, "", err
	}
	if l == nil {
		return nil, "", fmt.Errorf("%w: node %s", domain.ErrNotFound, id)
	}
	return l, c, nil
}

func (s *session) permissions(id, category string) ([]string, error) {
	l, c, err := s.permissionLedger(id, category)
	if err != nil {
		return nil, err
	}
	if err := s.require(l.Kind, id, domain.CategoryView); err != nil {
		return nil, err
	}
	return append([]string{}, l.List(c)...), nil
}

// updatePermissions replaces one category list. Users moved into it leave the
// other lists; users dropped from admin or edit fall back to view. View is the
// floor and its list only grows. A node always keeps at least one admin, and an
// admin cannot move themselves out of the admin list.
func (s *session) updatePermissions(id, category string, users []string) ([]string, error) {
	l, c, err := s.permissionLedger(id, category)
	if err != nil {
		return nil, err
	}
	if err := s.require(l.Kind, id, domain.CategoryAdmin); err != nil {
		return nil, err
	}

	next := normalizeUsers(users)
	old := l.List(c)

	if c == domain.CategoryView {
		for _, user := range old {
			if !contains(next, user) {
				return nil, fmt.Errorf("%w: view access of %s cannot be revoked", domain.ErrInput, user)
			}
		}
	}
	if c != domain.CategoryAdmin && l.Kind.IsInstance() {
		if err := s.checkConformedAccess(l.Kind, id, old, next); err != nil {
			return nil, err
		}
	}

	updated := domain.Ledger{UUID: l.UUID, Kind: l.Kind}
	lists := map[domain.Category][]string{
		domain.CategoryAdmin: l.Admin,
		domain.CategoryEdit:  l.Edit,
		domain.CategoryView:  l.View,
	}
	for other, list := range lists {
		if other == c {
			continue
		}
		lists[other] = without(list, next)
	}
	lists[c] = next
	if c != domain.CategoryView {
		for _, user := range old {
			if contains(next, user) || contains(lists[domain.CategoryAdmin], user) || contains(lists[domain.CategoryEdit], user) {
				continue
			}
			if !contains(lists[domain.CategoryView], user) {
				lists[domain.CategoryView] = append(lists[domain.CategoryView], user)
			}
		}
	}
	updated.Admin = lists[domain.CategoryAdmin]
	updated.Edit = lists[domain.CategoryEdit]
	updated.View = lists[domain.CategoryView]

	if len(updated.Admin) == 0 {
		return nil, fmt.Errorf("%w: %s %s needs at least one admin", domain.ErrInput, l.Kind, id)
	}
	if me := s.actor.Effective(); !s.actor.Privileged() && contains(l.Admin, me) && !contains(updated.Admin, me) {
		return nil, fmt.Errorf("%w: admins cannot remove themselves", domain.ErrInput)
	}

	if err := s.saveLedger(updated); err != nil {
		return nil, err
	}
	if err := s.audit("permission.update", l.Kind, id, string(c)+"="+strings.Join(next, ",")); err != nil {
		return nil, err
	}
	return next, nil
}

// checkConformedAccess refuses to grant instance access to users who cannot
// view the node the instance conforms to.
func (s *session) checkConformedAccess(kind domain.Kind, id string, old, next []string) error {
	doc, err := s.current(kind, id)
	if err != nil {
		return err
	}
	parentKind, parent := domain.KindSchema, doc.Content.Schema
	if kind == domain.KindRecord {
		parentKind, parent = domain.KindData, doc.Content.Dataset
	}
	if parent == nil {
		return nil
	}
	pl, err := s.ledger(parent.UUID)
	if err != nil {
		return err
	}
	for _, user := range next {
		if contains(old, user) {
			continue
		}
		if pl == nil || !pl.Grants(user, domain.CategoryView) {
			return fmt.Errorf("%w: %s cannot view %s %s", domain.ErrInput, user, parentKind, parent.UUID)
		}
	}
	return nil
}

func normalizeUsers(users []string) []string {
	out := make([]string, 0, len(users))
	for _, user := range users {
		user = strings.ToLower(strings.TrimSpace(user))
		if user == "" || contains(out, user) {
			continue
		}
		out = append(out, user)
	}
	sort.Strings(out)
	return out
}

func without(list, drop []string) []string {
	out := make([]string, 0, len(list))
	for _, user := range list {
		if !contains(drop, user) {
			out = append(out, user)
		}
	}
	return out
}
