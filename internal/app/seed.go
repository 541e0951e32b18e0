package app

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"giftline/internal/domain"
	"giftline/internal/engine"
	"giftline/internal/engine/auth"
	"giftline/internal/repo"
)

//go:embed seed.yml
var seedYAML []byte

type seedFile struct {
	Regions             []string            `yaml:"regions"`
	EligibilityCodes    []domain.StatusCode `yaml:"eligibility_codes"`
	DeliveryStatusCodes []domain.StatusCode `yaml:"delivery_status_codes"`
	Gifts               []seedStock         `yaml:"gifts"`
	Materials           []seedStock         `yaml:"materials"`
	Recipes             []seedRecipe        `yaml:"recipes"`
	Fleet               []domain.FleetUnit  `yaml:"fleet"`
	Staff               []seedStaff         `yaml:"staff"`
	Recipients          []seedRecipient     `yaml:"recipients"`
}

type seedStock struct {
	Name  string `yaml:"name"`
	Stock int    `yaml:"stock"`
}

type seedRecipe struct {
	Gift  string `yaml:"gift"`
	Lines []struct {
		Material string `yaml:"material"`
		Quantity int    `yaml:"quantity"`
	} `yaml:"lines"`
}

type seedStaff struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Role     string `yaml:"role"`
}

type seedRecipient struct {
	Name        string `yaml:"name"`
	Address     string `yaml:"address"`
	Region      string `yaml:"region"`
	Eligibility string `yaml:"eligibility"`
	Note        string `yaml:"note"`
	Preferences []struct {
		Gift string `yaml:"gift"`
		Rank int    `yaml:"rank"`
	} `yaml:"preferences"`
}

// SeedReport counts what Seed inserted.
type SeedReport struct {
	Skipped    bool `json:"skipped"`
	Regions    int  `json:"regions"`
	Codes      int  `json:"codes"`
	Gifts      int  `json:"gifts"`
	Materials  int  `json:"materials"`
	Recipes    int  `json:"recipes"`
	Fleet      int  `json:"fleet"`
	Staff      int  `json:"staff"`
	Recipients int  `json:"recipients"`
}

func loadSeed() (seedFile, error) {
	var sf seedFile
	if err := yaml.Unmarshal(seedYAML, &sf); err != nil {
		return sf, fmt.Errorf("parse seed: %w", err)
	}
	return sf, nil
}

// Seed loads the bundled reference data and sample records. It does nothing
// when staff or gifts already exist.
func Seed(ctx context.Context, e engine.Engine) (SeedReport, error) {
	var rep SeedReport
	staff, err := e.Repo.CountStaff(ctx)
	if err != nil {
		return rep, err
	}
	gifts, err := e.Repo.ListGifts(ctx)
	if err != nil {
		return rep, err
	}
	if staff > 0 || len(gifts) > 0 {
		rep.Skipped = true
		return rep, nil
	}
	sf, err := loadSeed()
	if err != nil {
		return rep, err
	}

	regionIDs, giftIDs, err := seedCatalog(ctx, e.Repo, sf, &rep)
	if err != nil {
		return rep, err
	}

	scope := auth.System()
	for _, s := range sf.Staff {
		if _, err := e.CreateStaff(ctx, scope, engine.CreateStaffOptions{
			Username: s.Username,
			Password: s.Password,
			Name:     s.Name,
			Role:     s.Role,
		}); err != nil {
			return rep, fmt.Errorf("seed staff %s: %w", s.Username, err)
		}
		rep.Staff++
	}
	for _, rc := range sf.Recipients {
		regionID, ok := regionIDs[rc.Region]
		if !ok {
			return rep, fmt.Errorf("seed recipient %s: unknown region %q", rc.Name, rc.Region)
		}
		opts := engine.CreateRecipientOptions{
			Name:        rc.Name,
			Address:     rc.Address,
			RegionID:    regionID,
			Eligibility: rc.Eligibility,
			Note:        rc.Note,
		}
		for _, p := range rc.Preferences {
			giftID, ok := giftIDs[p.Gift]
			if !ok {
				return rep, fmt.Errorf("seed recipient %s: unknown gift %q", rc.Name, p.Gift)
			}
			opts.Preferences = append(opts.Preferences, engine.PreferenceInput{GiftID: giftID, Rank: p.Rank})
		}
		if _, err := e.CreateRecipient(ctx, scope, opts); err != nil {
			return rep, fmt.Errorf("seed recipient %s: %w", rc.Name, err)
		}
		rep.Recipients++
	}
	return rep, nil
}

// seedCatalog writes reference tables in one transaction and returns ids
// keyed by name for the records that refer to them.
func seedCatalog(ctx context.Context, r repo.Repo, sf seedFile, rep *SeedReport) (map[string]int64, map[string]int64, error) {
	tx, err := r.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	regionIDs := map[string]int64{}
	for _, name := range sf.Regions {
		id, err := r.InsertRegionTx(ctx, tx, name)
		if err != nil {
			return nil, nil, fmt.Errorf("seed region %s: %w", name, err)
		}
		regionIDs[name] = id
		rep.Regions++
	}
	if err := insertCodes(ctx, r, tx, repo.EligibilityCodes, sf.EligibilityCodes, rep); err != nil {
		return nil, nil, err
	}
	if err := insertCodes(ctx, r, tx, repo.DeliveryStatusCodes, sf.DeliveryStatusCodes, rep); err != nil {
		return nil, nil, err
	}
	giftIDs := map[string]int64{}
	for _, g := range sf.Gifts {
		id, err := r.InsertGiftTx(ctx, tx, g.Name, g.Stock)
		if err != nil {
			return nil, nil, fmt.Errorf("seed gift %s: %w", g.Name, err)
		}
		giftIDs[g.Name] = id
		rep.Gifts++
	}
	materialIDs := map[string]int64{}
	for _, m := range sf.Materials {
		id, err := r.InsertMaterialTx(ctx, tx, m.Name, m.Stock)
		if err != nil {
			return nil, nil, fmt.Errorf("seed material %s: %w", m.Name, err)
		}
		materialIDs[m.Name] = id
		rep.Materials++
	}
	for _, rc := range sf.Recipes {
		giftID, ok := giftIDs[rc.Gift]
		if !ok {
			return nil, nil, fmt.Errorf("seed recipe: unknown gift %q", rc.Gift)
		}
		for _, l := range rc.Lines {
			materialID, ok := materialIDs[l.Material]
			if !ok {
				return nil, nil, fmt.Errorf("seed recipe %s: unknown material %q", rc.Gift, l.Material)
			}
			if err := r.InsertRecipeLineTx(ctx, tx, domain.RecipeLine{GiftID: giftID, MaterialID: materialID, Quantity: l.Quantity}); err != nil {
				return nil, nil, fmt.Errorf("seed recipe %s: %w", rc.Gift, err)
			}
		}
		rep.Recipes++
	}
	for _, u := range sf.Fleet {
		if _, err := r.InsertFleetUnitTx(ctx, tx, u); err != nil {
			return nil, nil, fmt.Errorf("seed fleet unit %s: %w", u.Name, err)
		}
		rep.Fleet++
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return regionIDs, giftIDs, nil
}

func insertCodes(ctx context.Context, r repo.Repo, tx *sql.Tx, table repo.CodeTable, codes []domain.StatusCode, rep *SeedReport) error {
	for _, c := range codes {
		if err := r.InsertCodeTx(ctx, tx, table, c); err != nil {
			return fmt.Errorf("seed %s %s: %w", table, c.Code, err)
		}
		rep.Codes++
	}
	return nil
}
