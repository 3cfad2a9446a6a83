package sdkerr

import "github.com/rs/zerolog"

// Reporter forwards absorbed errors to the debug log and the global
// error callback. The zero value discards everything.
type Reporter struct {
	Log     zerolog.Logger
	OnError func(error)
}

// Report logs err and hands it to the callback. A panicking callback is
// recovered and logged; it never reaches the caller.
func (r Reporter) Report(err error) {
	if err == nil {
		return
	}
	r.Log.Debug().Err(err).Msg("monitoring operation failed")
	if r.OnError == nil {
		return
	}
	defer func() {
		if v := recover(); v != nil {
			r.Log.Warn().Err(FromPanic(v)).Msg("error handler itself failed")
		}
	}()
	r.OnError(err)
}
