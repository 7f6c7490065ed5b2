package server

import (
	"crypto/tls"
	"fmt"
	"strings"

	"golang.org/x/crypto/acme/autocert"
)

// tlsConfig selects the TLS posture: a static certificate pair when files
// are configured, automatic ACME when a public domain is configured, or
// nil for plain HTTP behind an internal load balancer.
func (s *Server) tlsConfig() (*tls.Config, error) {
	certFile := strings.TrimSpace(s.cfg.TLSCertFile)
	keyFile := strings.TrimSpace(s.cfg.TLSKeyFile)
	if certFile != "" || keyFile != "" {
		if certFile == "" || keyFile == "" {
			return nil, fmt.Errorf("static TLS requires both cert and key files (cert=%q key=%q)", certFile, keyFile)
		}
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load static TLS certificate: %w", err)
		}
		s.log.Info("static TLS certificate loaded", "cert_file", certFile)
		return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
	}

	domainName := strings.TrimSpace(strings.ToLower(s.cfg.TLSDomain))
	if domainName == "" {
		return nil, nil
	}
	manager := &autocert.Manager{
		Cache:      autocert.DirCache(s.cfg.CertCacheDir),
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domainName),
	}
	s.log.Info("automatic TLS enabled", "domain", domainName, "cache_dir", s.cfg.CertCacheDir)
	return manager.TLSConfig(), nil
}
