package cli

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/storfleet/gatelink/internal/domain"
	"github.com/storfleet/gatelink/internal/token"
)

// runToken mints a signed credential for a gateway or an operator, mainly
// for local development and facility onboarding scripts.
func runToken(args []string) int {
	loadDotEnv(".env")

	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	secret := fs.String("secret", os.Getenv("GATELINK_JWT_SECRET"), "JWT signing secret")
	userID := fs.String("user", "", "Subject user id")
	role := fs.String("role", domain.RoleFacilityAdmin, "Role: facility-admin|admin|dev-admin")
	scopes := fs.String("facilities", "", "Comma separated facility ids granted to a facility-admin")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if strings.TrimSpace(*secret) == "" {
		fmt.Fprintln(os.Stderr, "token error: missing --secret or GATELINK_JWT_SECRET")
		return 2
	}
	if strings.TrimSpace(*userID) == "" {
		fmt.Fprintln(os.Stderr, "token error: missing --user")
		return 2
	}
	if !domain.IsOperatorRole(*role) {
		fmt.Fprintf(os.Stderr, "token error: unknown role %q\n", *role)
		return 2
	}

	var facilityScopes []string
	for _, s := range strings.Split(*scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			facilityScopes = append(facilityScopes, s)
		}
	}
	if *role == domain.RoleFacilityAdmin && len(facilityScopes) == 0 {
		fmt.Fprintln(os.Stderr, "token error: facility-admin needs --facilities")
		return 2
	}

	id := domain.Identity{UserID: *userID, Role: *role, FacilityScopes: facilityScopes}
	tok, err := token.NewManager(*secret).Issue(id, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "token error:", err)
		return 1
	}
	fmt.Println(tok)
	return 0
}
