package connector

// contract declares the parameter requirements of one command: true means the
// parameter must be present, false means it must be absent. Parameters not
// mentioned are unconstrained.
type contract map[string]bool

// command binds a handler to its parameter contract.
type command struct {
	run    func(*session) error
	params contract
}

// commands is the static registry mapping command names to handlers.
//
// The contract of each command lists exactly the parameters its handler
// dereferences without a presence check: validation happens once, up front,
// so handlers can assume their required parameters exist. The registry is
// never mutated at runtime.
var commands = map[string]command{
	"open":    {(*session).open, contract{"target": true}},
	"tree":    {(*session).tree, contract{"target": true}},
	"file":    {(*session).file, contract{"target": true}},
	"parents": {(*session).parents, contract{"target": true}},
	"mkdir":   {(*session).mkdir, contract{"target": true, "name": true}},
	"mkfile":  {(*session).mkfile, contract{"target": true, "name": true}},
	"rename":  {(*session).rename, contract{"target": true, "name": true}},
	"ls":      {(*session).list, contract{"target": true}},
	"paste":   {(*session).paste, contract{"targets[]": true, "src": true, "dst": true, "cut": true}},
	"rm":      {(*session).remove, contract{"targets[]": true}},
	"upload":  {(*session).upload, contract{"target": true}},
	"extract": {(*session).extract, contract{"target": true}},
	"archive": {(*session).archive, contract{"target": true, "targets[]": true, "name": true, "type": true}},
}

// has reports whether the request carries the named parameter. Array-typed
// parameters count as present when non-empty.
func (s *session) has(field string) bool {
	switch field {
	case "targets[]":
		return len(s.targets) > 0
	case "upload[]":
		return len(s.uploads) > 0
	default:
		_, ok := s.data[field]
		return ok
	}
}

// validate checks the request parameters against a command contract.
// Parameters outside the contract are ignored.
func (s *session) validate(c contract) bool {
	for field, required := range c {
		if required && !s.has(field) {
			return false
		}
		if !required && s.has(field) {
			return false
		}
	}
	return true
}
