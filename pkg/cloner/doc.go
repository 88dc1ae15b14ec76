/*
Package cloner runs one traffic cloning session.

A Cloner synthesizes the gor argument vector from a types.Configuration,
starts a supervisor on its own goroutine and leaves the caller free to wait
or react to signals:

	c, err := cloner.New(cfg, cloner.Options{})
	if err != nil {
		return err
	}
	c.HandleSignals(os.Interrupt, syscall.SIGTERM)
	if err := c.Start(ctx); err != nil {
		return err
	}
	c.Wait()
	if err := c.Stop(); err != nil {
		_ = c.ForceStop()
	}

Wait polls a keep-running flag once per WaitInterval. The signal hook clears
that flag and forwards a stop request to the supervisor.
*/
package cloner
