package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/giantswarm/uma-oauth/claims"
	"github.com/giantswarm/uma-oauth/server"
	"github.com/giantswarm/uma-oauth/storage"
)

// bootstrapFile seeds clients and resource owners at startup.
type bootstrapFile struct {
	Clients []bootstrapClient `yaml:"clients"`
	Owners  []bootstrapOwner  `yaml:"owners"`
}

type bootstrapClient struct {
	ClientID                string                 `yaml:"client_id"`
	ClientName              string                 `yaml:"client_name"`
	Secrets                 []storage.ClientSecret `yaml:"secrets"`
	TokenEndpointAuthMethod string                 `yaml:"token_endpoint_auth_method"`
	GrantTypes              []string               `yaml:"grant_types"`
	ResponseTypes           []string               `yaml:"response_types"`
	Scopes                  []string               `yaml:"scopes"`
	RedirectURIs            []string               `yaml:"redirect_uris"`
	JwksURI                 string                 `yaml:"jwks_uri"`
	RequirePKCE             bool                   `yaml:"require_pkce"`
	AccessTokenLifetime     time.Duration          `yaml:"access_token_lifetime"`
	RefreshTokenLifetime    time.Duration          `yaml:"refresh_token_lifetime"`
}

type bootstrapOwner struct {
	ID                      string                  `yaml:"id"`
	PasswordHash            string                  `yaml:"password_hash"`
	Claims                  []claims.Claim          `yaml:"claims"`
	TwoFactorAuthentication string                  `yaml:"two_factor_authentication"`
	ExternalLogins          []storage.ExternalLogin `yaml:"external_logins"`
}

func loadBootstrap(path string) (*bootstrapFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening bootstrap file: %w", err)
	}
	defer f.Close()
	return decodeBootstrap(f)
}

func decodeBootstrap(r io.Reader) (*bootstrapFile, error) {
	var b bootstrapFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding bootstrap file: %w", err)
	}
	return &b, nil
}

// apply validates every entry before saving any of them.
func (b *bootstrapFile) apply(ctx context.Context, stores server.Stores) error {
	now := time.Now()

	clients := make([]*storage.Client, 0, len(b.Clients))
	for i := range b.Clients {
		client, err := b.Clients[i].toClient(now)
		if err != nil {
			return fmt.Errorf("client %d: %w", i, err)
		}
		clients = append(clients, client)
	}

	owners := make([]*storage.ResourceOwner, 0, len(b.Owners))
	for i := range b.Owners {
		owner, err := b.Owners[i].toOwner(now)
		if err != nil {
			return fmt.Errorf("owner %d: %w", i, err)
		}
		owners = append(owners, owner)
	}

	for _, client := range clients {
		if err := stores.Clients.SaveClient(ctx, client); err != nil {
			return fmt.Errorf("saving client %s: %w", client.ClientID, err)
		}
	}
	for _, owner := range owners {
		if err := stores.ResourceOwners.SaveResourceOwner(ctx, owner); err != nil {
			return fmt.Errorf("saving owner %s: %w", owner.ID, err)
		}
	}
	return nil
}

func (c *bootstrapClient) toClient(now time.Time) (*storage.Client, error) {
	for _, s := range c.Secrets {
		if s.Type != storage.SecretTypeSharedSecret {
			continue
		}
		if _, err := bcrypt.Cost([]byte(s.Value)); err != nil {
			return nil, fmt.Errorf("%s: shared secret is not a bcrypt hash", c.ClientID)
		}
	}

	authMethod := c.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = storage.AuthMethodClientSecretBasic
	}

	client := &storage.Client{
		ClientID:                c.ClientID,
		ClientName:              c.ClientName,
		Secrets:                 c.Secrets,
		TokenEndpointAuthMethod: authMethod,
		GrantTypes:              c.GrantTypes,
		ResponseTypes:           c.ResponseTypes,
		AllowedScopes:           c.Scopes,
		JwksURI:                 c.JwksURI,
		RedirectURIs:            c.RedirectURIs,
		RequirePKCE:             c.RequirePKCE,
		AccessTokenLifetime:     c.AccessTokenLifetime,
		RefreshTokenLifetime:    c.RefreshTokenLifetime,
		CreatedAt:               now,
	}
	if err := client.Validate(); err != nil {
		return nil, err
	}
	return client, nil
}

func (o *bootstrapOwner) toOwner(now time.Time) (*storage.ResourceOwner, error) {
	if o.ID == "" {
		return nil, fmt.Errorf("id is required")
	}
	if o.PasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(o.PasswordHash)); err != nil {
			return nil, fmt.Errorf("%s: password_hash is not a bcrypt hash", o.ID)
		}
	}
	return &storage.ResourceOwner{
		ID:                      o.ID,
		PasswordHash:            o.PasswordHash,
		Claims:                  claims.New(o.Claims...),
		IsLocalAccount:          o.PasswordHash != "",
		TwoFactorAuthentication: o.TwoFactorAuthentication,
		ExternalLogins:          o.ExternalLogins,
		CreatedAt:               now,
		UpdatedAt:               now,
	}, nil
}
