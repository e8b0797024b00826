// concierge is the face-recognition kiosk client. It identifies the user
// through the camera, welcomes them and then relays their commands to the
// remote assistant.
//
// Usage:
//
//	concierge                           # run with ./concierge.yaml and .env
//	concierge --server wss://robot/ws   # override the service endpoint
//	concierge --locale en-US            # speak English
//	concierge version
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
