// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"context"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// Hooks satisfies the sqlhooks.Hooks interface, logging every registry
// query the way the teacher logs its own job-repository queries.
type Hooks struct{}

type ctxKey string

const beginKey ctxKey = "begin"

// Before hook prints the query with its args and stashes a start timestamp.
func (h *Hooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	cclog.Debugf("[DBADMIN] query %s %q", query, args)
	return context.WithValue(ctx, beginKey, time.Now()), nil
}

// After hook logs elapsed time since the matching Before call.
func (h *Hooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(beginKey).(time.Time); ok {
		cclog.Debugf("[DBADMIN] took %s", time.Since(begin))
	}
	return ctx, nil
}
