package gateway

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/colorcrew/slackbridge/pkg/logger"
)

// Ports are derived from the project path so every process working in
// the same directory agrees on where the daemon listens without any
// coordination. The probe walks forward from the derived port when it
// is taken.
const (
	basePort      = 19842
	portRangeSize = 1000
)

// DerivePort hashes projectPath into the daemon port range.
func DerivePort(projectPath string) int {
	sum := md5.Sum([]byte(projectPath))
	offset := int(binary.BigEndian.Uint32(sum[:4]) % portRangeSize)
	return basePort + offset
}

// DiscoverPort picks the first free port at or after the derived one
// and records it in portFile for client discovery. An empty portFile
// skips the write.
func DiscoverPort(projectPath, portFile string) (int, error) {
	derived := DerivePort(projectPath)

	port := derived
	for ; port <= basePort+portRangeSize; port++ {
		l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			continue
		}
		l.Close()
		break
	}
	if port > basePort+portRangeSize {
		return 0, fmt.Errorf("no free port in range %d-%d", basePort, basePort+portRangeSize)
	}

	if port != derived {
		logger.InfoCF("gateway", "Derived port taken, probed forward", map[string]interface{}{
			"derived": derived,
			"port":    port,
		})
	}

	if portFile != "" {
		if err := os.WriteFile(portFile, []byte(strconv.Itoa(port)), 0o644); err != nil {
			return 0, fmt.Errorf("write port file %s: %w", portFile, err)
		}
	}
	return port, nil
}
