package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
)

// シングルテーブル設計のキー
const (
	pkPrefix   = "PROJECT#"
	skMeta     = "META"
	skScene    = "SCENE#"
	attrPK     = "PK"
	attrSK     = "SK"
	sceneSKFmt = skScene + "%04d"
)

// DynamoAPI は DynamoStore が使う DynamoDB クライアントのメソッドです。
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore は DynamoDB 上の ProjectStateStore です。
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

var _ ProjectStateStore = (*DynamoStore)(nil)

// NewDynamoStore は指定テーブルを使う DynamoStore を生成します。
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, now: time.Now}
}

func projectPK(projectID string) string {
	return pkPrefix + projectID
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: pk},
		attrSK: &types.AttributeValueMemberS{Value: sk},
	}
}

func (s *DynamoStore) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	pk := projectPK(projectID)
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       key(pk, skMeta),
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem PK=%s: %w", pk, err)
	}
	if result.Item == nil {
		return nil, nil
	}
	var p domain.Project
	if err := attributevalue.UnmarshalMap(result.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal PK=%s: %w", pk, err)
	}
	return &p, nil
}

// UpdateProjectStatus は createdAt を初回のみ設定する UpdateItem で状態を書き込みます。
func (s *DynamoStore) UpdateProjectStatus(ctx context.Context, projectID string, status domain.ProjectStatus, stage string) error {
	pk := projectPK(projectID)
	now, err := attributevalue.Marshal(s.now())
	if err != nil {
		return fmt.Errorf("marshal time: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              key(pk, skMeta),
		UpdateExpression: aws.String("SET #id = :id, #status = :status, #stage = :stage, #updatedAt = :now, #createdAt = if_not_exists(#createdAt, :now)"),
		ExpressionAttributeNames: map[string]string{
			"#id":        "id",
			"#status":    "status",
			"#stage":     "stage",
			"#updatedAt": "updatedAt",
			"#createdAt": "createdAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id":     &types.AttributeValueMemberS{Value: projectID},
			":status": &types.AttributeValueMemberS{Value: string(status)},
			":stage":  &types.AttributeValueMemberS{Value: stage},
			":now":    now,
		},
	})
	if err != nil {
		return fmt.Errorf("UpdateItem PK=%s: %w", pk, err)
	}
	return nil
}

func (s *DynamoStore) UpsertScene(ctx context.Context, scene domain.Scene) error {
	if scene.ProjectID == "" {
		return fmt.Errorf("シーンの ProjectID が空です")
	}
	scene.UpdatedAt = s.now()
	item, err := attributevalue.MarshalMap(scene)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	pk, sk := projectPK(scene.ProjectID), fmt.Sprintf(sceneSKFmt, scene.FrameNumber)
	item[attrPK] = &types.AttributeValueMemberS{Value: pk}
	item[attrSK] = &types.AttributeValueMemberS{Value: sk}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

func (s *DynamoStore) ListScenes(ctx context.Context, projectID string) ([]domain.Scene, error) {
	pk := projectPK(projectID)
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
			":sk": &types.AttributeValueMemberS{Value: skScene},
		},
	}

	var scenes []domain.Scene
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s: %w", pk, err)
		}
		var page []domain.Scene
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal scenes PK=%s: %w", pk, err)
		}
		scenes = append(scenes, page...)

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return scenes, nil
}
