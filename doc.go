// Package ephemeraldb provisions disposable databases for test suites.
//
// [Setup] resolves a [dbconfig.Config] against a [dbconfig.Flavor], starts a container when one is
// requested, applies migrations, runs a seed function and publishes the connection descriptor to a
// [Context]. Fixtures read the descriptor back, keep one handle per worker and give every test its
// own rolled back transaction.
//
// A typical TestMain:
//
//	func TestMain(m *testing.M) {
//		ctx := context.Background()
//		env, err := ephemeraldb.Setup(ctx, dbconfig.Postgres,
//			dbconfig.Config{Container: &dbconfig.ContainerIntent{Tag: "18-alpine"}},
//			ephemeraldb.WithMigrations(os.DirFS("migrations")),
//		)
//		if err != nil {
//			log.Fatal(err)
//		}
//		fixture = env.Fixture()
//		code := m.Run()
//		if err := env.Close(); err != nil {
//			log.Print(err)
//		}
//		os.Exit(code)
//	}
//
// Whatever stage fails, the container is removed exactly once.
package ephemeraldb
