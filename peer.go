package shadowbox

import (
	"fmt"
	"os"
)

// localPeerName returns the machine's hostname, used as the default
// display name a share.Server/Client announces to peers.
func localPeerName() (string, error) {
	return os.Hostname()
}

func addrForPort(port int) string {
	return fmt.Sprintf(":%d", port)
}
