package main

import (
	"os"
	"os/signal"
)

// interruptChannel is used to receive SIGINT (Ctrl+C) signals.
var interruptChannel chan os.Signal

// interruptHandlersDone is closed after all interrupt handlers run the first
// time an interrupt is signaled.
var interruptHandlersDone = make(chan struct{})

// signals defines the default signals to catch in order to do a proper
// shutdown.  This may be modified during init depending on the platform.
var signals = []os.Signal{os.Interrupt}

// interruptListener returns a channel that is closed once an interrupt is
// signaled. Blocking operations watch it through the context of a command.
func interruptListener() <-chan struct{} {
	c := make(chan struct{})

	interruptChannel = make(chan os.Signal, 1)
	signal.Notify(interruptChannel, signals...)

	go func() {
		sig := <-interruptChannel
		log.Infof("Received signal (%s).  Shutting down...", sig)
		close(c)

		// Listen for repeated signals and display a message so the user
		// knows the shutdown is in progress and the process is not
		// hung.
		for {
			select {
			case sig := <-interruptChannel:
				log.Infof("Received signal (%s).  Already "+
					"shutting down...", sig)
			case <-interruptHandlersDone:
				return
			}
		}
	}()

	return c
}
