// Package zones implements the command that lists the zones & products of a Radialight account.
package zones

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/clambin/radialight-monitor/internal/cmd/config"
	"github.com/clambin/radialight-monitor/pkg/radialight"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var Cmd = cobra.Command{
	Use:   "zones",
	Short: "List the zones and products of the Radialight account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		credentials, err := config.GetCredentials(viper.GetViper())
		if err != nil {
			return err
		}
		client, _ := config.NewClient(credentials, radialight.NewHTTPClient(nil, viper.GetDuration("radialight.timeout")), slog.Default())
		encoder := yaml.NewEncoder(os.Stdout)
		defer func() { _ = encoder.Close() }()
		return ShowZones(cmd.Context(), client, encoder)
	},
}

type Encoder interface {
	Encode(any) error
}

type RadialightGetter interface {
	GetZones(context.Context) (radialight.Listing, error)
}

type product struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Online bool   `yaml:"online"`
	Model  string `yaml:"model,omitempty"`
}

type zone struct {
	ID       string    `yaml:"id"`
	Name     string    `yaml:"name"`
	Products []product `yaml:"products"`
}

type report struct {
	Zones      []zone    `yaml:"zones"`
	Unassigned []product `yaml:"unassigned,omitempty"`
}

// ShowZones writes the zones and their products to e. Products not assigned to any zone are listed separately.
func ShowZones(ctx context.Context, c RadialightGetter, e Encoder) error {
	listing, err := c.GetZones(ctx)
	if err != nil {
		return fmt.Errorf("radialight: zones: %w", err)
	}

	var r report
	assigned := make(map[string]struct{})
	for _, z := range listing.Zones {
		entry := zone{ID: z.ID, Name: z.Name, Products: make([]product, 0, len(z.Products))}
		for _, p := range z.Products {
			entry.Products = append(entry.Products, makeProduct(p))
			assigned[p.ID] = struct{}{}
		}
		r.Zones = append(r.Zones, entry)
	}
	for _, p := range listing.Products {
		if _, ok := assigned[p.ID]; !ok {
			r.Unassigned = append(r.Unassigned, makeProduct(p))
		}
	}
	return e.Encode(r)
}

func makeProduct(p radialight.Product) product {
	return product{
		ID:     p.ID,
		Name:   p.Name,
		Online: p.Online(),
		Model:  p.Model,
	}
}
