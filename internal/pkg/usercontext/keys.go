package usercontext

// Shared Locals and cookie keys used across controllers and middlewares
const (
	LocalsKey     = "USER_CONTEXT"
	KeyVisitorID  = "visitor_id"
	VisitorCookie = "pc_visitor"
	SessionCookie = "__session"
)
