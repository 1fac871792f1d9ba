package ioloop

import (
	"github.com/jasonmoo/cog/internal/gerr"
	"github.com/jasonmoo/cog/internal/protocol"
)

// recvFunc handles one parsed command against a connection's role-specific
// state. A handler's dispatch table maps protocol.Type to one of these
// (design note: a static map replaces the teacher's single-command
// special-casing, generalized for Gearman's larger command set).
type recvFunc func(c *Conn, args protocol.Args) error

type dispatchTable map[protocol.Type]recvFunc

// fetchCommands drains c's inbound queue, dispatching each command through
// table. A command type this role's table has no handler for raises
// gerr.ErrUnknownCommand (spec.md §4.5/§7: UnknownCommandError is raised,
// not swallowed); the caller's error handling tears down the connection
// the same way any other protocol failure does.
func fetchCommands(c *Conn, table dispatchTable) error {
	for {
		cmd, ok := c.ReadCommand()
		if !ok {
			return nil
		}
		fn, known := table[cmd.Type]
		if !known {
			return gerr.New(gerr.CodeUnknownCommand, "unrecognized command type "+protocol.Name(cmd.Type), nil)
		}
		if err := fn(c, cmd.Args); err != nil {
			return err
		}
	}
}
