package ledger

// Session binds a caller's (user, tenant) context to subsequent reads
// and writes. Every statement a session issues filters rows by this
// context; nothing can be read or written through a Store without one.
//
// A Session is cheap, immutable, and scoped to one request.
type Session struct {
	store    *Store
	UserID   string
	TenantID string
}

// Bind creates a session for the given caller context. The binding
// happens before any query and covers the session's whole lifetime.
func (s *Store) Bind(userID, tenantID string) *Session {
	return &Session{store: s, UserID: userID, TenantID: tenantID}
}

// visibleWhere is the row-level filter applied to every read: public
// rows, the session tenant's rows, and private rows owned by the
// session user. Appended to queries with AND; callers supply the two
// placeholder arguments via visibleArgs.
const visibleWhere = `(visibility = 'public'
		OR (visibility = 'tenant' AND tenant_id = ?)
		OR (visibility = 'private' AND owner_id = ?))`

func (sess *Session) visibleArgs() []any {
	return []any{sess.TenantID, sess.UserID}
}
