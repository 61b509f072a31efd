package casbin

import (
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2/persist"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	// register the mysql driver for gorm-adapter
	_ "github.com/go-sql-driver/mysql"
)

// PolicyText renders rules in the CSV form read by the string adapter.
func PolicyText(rules []Rule) string {
	lines := make([]string, 0, len(rules))
	for _, r := range rules {
		lines = append(lines, strings.Join(append([]string{r.PType}, r.Values...), ", "))
	}
	return strings.Join(lines, "\n")
}

// NewMySQLAdapter connects a gorm adapter to the MySQL database in dsn.
func NewMySQLAdapter(dsn string) (*gormadapter.Adapter, error) {
	a, err := gormadapter.NewAdapter("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open casbin policy store: %w", err)
	}
	return a, nil
}

// Seed adds the missing rules to the policy stored behind policyRepo.
// Rules already present are left untouched, so seeding can be repeated.
func Seed(config string, policyRepo persist.Adapter, rules []Rule) (int, error) {
	enforcer, err := newEnforcer(config, policyRepo)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, r := range rules {
		var ok bool
		switch r.PType {
		case "g":
			ok, err = enforcer.AddGroupingPolicy(r.Values)
		default:
			ok, err = enforcer.AddNamedPolicy(r.PType, r.Values)
		}
		if err != nil {
			return added, fmt.Errorf("add %s policy %v: %w", r.PType, r.Values, err)
		}
		if ok {
			added++
		}
	}
	return added, nil
}
