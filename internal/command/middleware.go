package command

import (
	"log"
	"time"
)

type Middleware func(Command) Command

type wrappedCommand struct {
	Command
	wrap func(ctx *Context) error
}

func (w *wrappedCommand) Run(ctx *Context) error {
	if w.wrap != nil {
		return w.wrap(ctx)
	}
	return w.Command.Run(ctx)
}

// WithGuildOnly rejects commands sent in direct messages.
func WithGuildOnly() Middleware {
	return func(cmd Command) Command {
		return &wrappedCommand{
			Command: cmd,
			wrap: func(ctx *Context) error {
				if ctx.GuildID == "" {
					return ctx.Reply("You must be in a guild to use this command.")
				}
				return cmd.Run(ctx)
			},
		}
	}
}

// WithAdminCheck rejects commands that need an administrator when the
// caller is none.
func WithAdminCheck() Middleware {
	return func(cmd Command) Command {
		return &wrappedCommand{
			Command: cmd,
			wrap: func(ctx *Context) error {
				if cmd.RequireAdmin() && !ctx.Admin {
					log.Printf("[WARN] /%s denied for %s in guild %s", cmd.Name(), ctx.UserID, ctx.GuildID)
					return ctx.Reply("You need to be an administrator to use this command.")
				}
				return cmd.Run(ctx)
			},
		}
	}
}

// WithCommandLogger logs every execution with its outcome.
func WithCommandLogger() Middleware {
	return func(cmd Command) Command {
		return &wrappedCommand{
			Command: cmd,
			wrap: func(ctx *Context) error {
				started := time.Now()
				err := cmd.Run(ctx)
				if err != nil {
					log.Printf("[ERR] /%s by %s in guild %s failed after %v: %v",
						cmd.Name(), ctx.UserID, ctx.GuildID, time.Since(started).Round(time.Millisecond), err)
					return err
				}
				log.Printf("[INFO] /%s by %s in guild %s", cmd.Name(), ctx.UserID, ctx.GuildID)
				return nil
			},
		}
	}
}

// ApplyMiddlewares wraps cmd, the last middleware ends up outermost.
func ApplyMiddlewares(cmd Command, mws ...Middleware) Command {
	for _, mw := range mws {
		cmd = mw(cmd)
	}
	return cmd
}
