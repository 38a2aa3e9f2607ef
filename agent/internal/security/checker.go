package security

import (
	"context"
	"crypto/tls"
	"math"
	"net"
	"net/url"
	"time"
)

// Certificate states reported in CertStatus.Status.
const (
	StatusValid       = "valid"
	StatusExpiring    = "expiring"
	StatusExpired     = "expired"
	StatusUnreachable = "unreachable"
)

// expiringWithinDays marks a certificate as expiring.
const expiringWithinDays = 30

// CertStatus describes the leaf certificate presented by the server.
type CertStatus struct {
	Endpoint string
	Status   string
	NotAfter string // RFC 3339, UTC
	Issuer   string
	DaysLeft int
}

// Check dials the TLS endpoint behind serverURL and returns a CertStatus
// describing the leaf certificate.
//
// Returns nil for non-HTTPS URLs. Uses a 10-second dial timeout so a
// slow gateway does not hold up the replay.
func Check(ctx context.Context, serverURL string, insecureSkipVerify bool) *CertStatus {
	u, err := url.Parse(serverURL)
	if err != nil || u.Scheme != "https" {
		return nil
	}

	cs := &CertStatus{Endpoint: serverURL}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			InsecureSkipVerify: insecureSkipVerify, //nolint:gosec
		},
	}

	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		cs.Status = StatusUnreachable
		return cs
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		cs.Status = StatusUnreachable
		return cs
	}

	leaf := peerCerts[0]
	daysLeft := time.Until(leaf.NotAfter).Hours() / 24

	cs.NotAfter = leaf.NotAfter.UTC().Format(time.RFC3339)
	cs.Issuer = leaf.Issuer.CommonName
	cs.DaysLeft = int(math.Floor(daysLeft))
	cs.Status = classify(daysLeft)
	return cs
}

func classify(daysLeft float64) string {
	switch {
	case daysLeft <= 0:
		return StatusExpired
	case daysLeft <= expiringWithinDays:
		return StatusExpiring
	default:
		return StatusValid
	}
}
