package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

var (
	ErrTLSClientKeyPathNotSpecified  = errors.New("client key path not specified, while client cert path set")
	ErrTLSClientCertPathNotSpecified = errors.New("client cert path not specified, while client key path set")
	ErrTLSNoCACerts                  = errors.New("no certificates found in ca file")
)

// TLSConfig describes the client side of a TLS connection to the server.
type TLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CACertPEMPath     string `yaml:"ca_cert_pem_path"`
	ClientCertPEMPath string `yaml:"client_cert_pem_path"`
	ClientKeyPEMPath  string `yaml:"client_key_pem_path"`
	TargetHost        string `yaml:"target_host"`
	ValidateServer    bool   `yaml:"validate_server"`

	Config *tls.Config `yaml:"-"`
}

func (c *TLSConfig) Parse() error {
	if c.Config != nil {
		return nil
	}

	if err := c.validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	if !c.Enabled {
		return nil
	}

	conf := &tls.Config{
		ServerName:         c.TargetHost,
		InsecureSkipVerify: !c.ValidateServer,
		MinVersion:         tls.VersionTLS12,
	}

	if c.CACertPEMPath != "" {
		pem, err := os.ReadFile(c.CACertPEMPath)
		if err != nil {
			return fmt.Errorf("read ca cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return ErrTLSNoCACerts
		}
		conf.RootCAs = pool
	}

	if c.ClientCertPEMPath != "" {
		cert, err := tls.LoadX509KeyPair(c.ClientCertPEMPath, c.ClientKeyPEMPath)
		if err != nil {
			return fmt.Errorf("load x509 key pair: %w", err)
		}
		conf.Certificates = []tls.Certificate{cert}
	}

	c.Config = conf
	return nil
}

func (c *TLSConfig) validate() error {
	if !c.Enabled {
		return nil
	}

	if c.ClientCertPEMPath != "" && c.ClientKeyPEMPath == "" {
		return ErrTLSClientKeyPathNotSpecified
	}

	if c.ClientKeyPEMPath != "" && c.ClientCertPEMPath == "" {
		return ErrTLSClientCertPathNotSpecified
	}

	return nil
}
