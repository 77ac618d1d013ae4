package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	netfirstcache "github.com/dgduncan/go-netfirst-cache"
	"github.com/dgduncan/go-netfirst-cache/caches"
)

// DefaultTablePrefix is prepended to a generation name to form its table name.
const DefaultTablePrefix = "netfirst-"

const keyAttribute = "request"

var tableName = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,255}$`)

// Client is the subset of *dynamodb.Client used by the store.
type Client interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error)
	ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Config defines the configuration options for the DynamoDB store implementation.
type Config struct {
	TablePrefix string        // Prepended to every generation name. Defaults to DefaultTablePrefix.
	OpenTimeout time.Duration // How long Open waits for a new generation table to become active.
}

// Store implements netfirstcache.Store using Amazon DynamoDB as the storage
// backend. Each generation is its own table, so deleting a generation is a
// single DeleteTable call.
type Store struct {
	client Client

	prefix      string
	openTimeout time.Duration
	now         func() time.Time

	opened sync.Map // table name -> struct{}
}

type cacheItem struct {
	Request  string `json:"request" dynamodbav:"request"`
	Response []byte `json:"response" dynamodbav:"response"`
	StoredAt int64  `json:"stored_at" dynamodbav:"stored_at"`
}

// Open creates the generation table on first use and waits for it to become
// active.
func (s *Store) Open(ctx context.Context, name string) (netfirstcache.Cache, error) {
	if name == "" {
		return nil, caches.ErrEmptyGeneration
	}

	table := s.prefix + name
	if _, ok := s.opened.Load(table); ok {
		return &Cache{client: s.client, table: table, now: s.now}, nil
	}

	if !tableName.MatchString(table) {
		return nil, caches.ValidationError{Reason: fmt.Sprintf("invalid table name %q", table)}
	}

	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String(keyAttribute),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String(keyAttribute),
				KeyType:       types.KeyTypeHash,
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return nil, fmt.Errorf("creating table %s: %w", table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, s.openTimeout); err != nil {
		return nil, fmt.Errorf("waiting for table %s: %w", table, err)
	}

	s.opened.Store(table, struct{}{})
	return &Cache{client: s.client, table: table, now: s.now}, nil
}

// Keys lists the generations whose tables carry the store prefix.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var names []string

	p := dynamodb.NewListTablesPaginator(s.client, &dynamodb.ListTablesInput{})
	for p.HasMorePages() {
		output, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}

		for _, table := range output.TableNames {
			if name, ok := strings.CutPrefix(table, s.prefix); ok && name != "" {
				names = append(names, name)
			}
		}
	}

	return names, nil
}

// Delete drops the generation table and waits until DynamoDB no longer
// reports it. A table stays listed while it is DELETING.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	table := s.prefix + name
	s.opened.Delete(table)

	_, err := s.client.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(table),
	})
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	waiter := dynamodb.NewTableNotExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, s.openTimeout); err != nil {
		return true, fmt.Errorf("waiting for table %s to be deleted: %w", table, err)
	}

	return true, nil
}

// Cache is one generation table.
type Cache struct {
	client Client
	table  string

	now func() time.Time
}

// Match retrieves the snapshot stored under k.
// Returns caches.ErrNoCacheItem if the item or its table doesn't exist.
func (c *Cache) Match(ctx context.Context, k string) (*netfirstcache.Snapshot, error) {
	key, err := attributevalue.Marshal(k)
	if err != nil {
		return nil, err
	}

	output, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		Key: map[string]types.AttributeValue{
			keyAttribute: key,
		},
		ConsistentRead: aws.Bool(true),
		TableName:      aws.String(c.table),
	})
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return nil, caches.ErrNoCacheItem
	}
	if err != nil {
		return nil, err
	}

	if output.Item == nil {
		return nil, caches.ErrNoCacheItem
	}

	var item cacheItem
	if err := attributevalue.UnmarshalMap(output.Item, &item); err != nil {
		return nil, err
	}

	return &netfirstcache.Snapshot{
		Key:      item.Request,
		Response: item.Response,
		StoredAt: time.Unix(item.StoredAt, 0).UTC(),
	}, nil
}

// Put stores v under k, replacing the previous snapshot.
func (c *Cache) Put(ctx context.Context, k string, v *netfirstcache.Snapshot) error {
	storedAt := v.StoredAt
	if storedAt.IsZero() {
		storedAt = c.now()
	}

	av, err := attributevalue.MarshalMap(cacheItem{
		Request:  k,
		Response: v.Response,
		StoredAt: storedAt.UTC().Unix(),
	})
	if err != nil {
		return err
	}

	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      av,
	})
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s", caches.ErrGenerationDeleted, c.table)
	}

	return err
}

// New creates a new DynamoDB store with the provided configuration.
// It validates the configuration and sets default values where appropriate.
// Returns an error if the client is nil or if the configuration is invalid.
func New(_ context.Context, client Client, config *Config) (*Store, error) {
	if client == nil {
		return nil, caches.ValidationError{
			Reason: "nil client",
		}
	}

	if config == nil {
		config = &Config{}
	}

	prefix := config.TablePrefix
	if prefix == "" {
		prefix = DefaultTablePrefix
	}

	openTimeout := config.OpenTimeout
	if openTimeout == 0 {
		openTimeout = caches.DefaultOpenTimeout
	}

	return &Store{
		client: client,

		prefix:      prefix,
		openTimeout: openTimeout,
		now:         time.Now,
	}, nil
}
